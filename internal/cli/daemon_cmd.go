package cli

import (
	"github.com/spf13/cobra"

	"github.com/civalops/farmcoord/internal/config"
	"github.com/civalops/farmcoord/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port          int
		intervalSec   float64
		autoRebalance bool
		dev           bool
		pprofAddr     string
		dbDriver      string
		dbURL         string
		enableOtel    bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			file, err := config.Load(home)
			if err != nil {
				return err
			}
			coordCfg, err := file.Coordination()
			if err != nil {
				return err
			}
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:          home,
				Port:          port,
				IntervalSec:   intervalSec,
				AutoRebalance: autoRebalance,
				Dev:           dev,
				PprofAddr:     pprofAddr,
				DBDriver:      dbDriver,
				DBURL:         dbURL,
				EnableOtel:    enableOtel,
				Coordination:  coordCfg,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 4780, "Port for the HTTP API")
	cmd.Flags().Float64Var(&intervalSec, "interval", 60.0, "Maintenance loop interval (seconds, 0 disables)")
	cmd.Flags().BoolVar(&autoRebalance, "auto-rebalance", false, "Rebalance overloaded farms from the maintenance loop")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
