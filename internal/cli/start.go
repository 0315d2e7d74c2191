package cli

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/civalops/farmcoord/internal/config"
	"github.com/civalops/farmcoord/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var (
		port          int
		foreground    bool
		intervalSec   float64
		autoRebalance bool
		dev           bool
		pprofAddr     string
		envFile       string
		dbDriver      string
		dbURL         string
		enableOtel    bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the farmcoord server (HTTP API + maintenance loop)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())

			file, err := config.Load(home)
			if err != nil {
				return err
			}
			coordCfg, err := file.Coordination()
			if err != nil {
				return err
			}
			// Flags win; the config file fills in what was not set.
			if !cmd.Flags().Changed("interval") {
				if every, err := file.MaintenanceEvery(); err == nil && every > 0 {
					intervalSec = every.Seconds()
				}
			}
			if !cmd.Flags().Changed("auto-rebalance") && file.AutoRebalance {
				autoRebalance = true
			}
			if !cmd.Flags().Changed("db-driver") && file.DBDriver != "" {
				dbDriver = file.DBDriver
			}
			if dbURL == "" {
				dbURL = file.DBURL
			}

			opts := daemon.StartOptions{
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
			}

			api := (&url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", port)}).String()

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting farmcoord in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "farmcoord started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 4780, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().Float64Var(&intervalSec, "interval", 60.0, "Maintenance loop interval (seconds, 0 disables)")
	cmd.Flags().BoolVar(&autoRebalance, "auto-rebalance", false, "Rebalance overloaded farms from the maintenance loop")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter, HTTP/SSE instrumentation)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
