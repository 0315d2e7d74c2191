package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/civalops/farmcoord/internal/config"
	"github.com/civalops/farmcoord/internal/coordinator"
	"github.com/civalops/farmcoord/internal/store"
)

// openLocal opens the store under the resolved home and builds a coordinator
// over it. CLI commands operate on the store directly; SSE subscribers of a
// running daemon pick up the changes on its next snapshot rebuild.
func openLocal(cmd *cobra.Command) (store.Store, *coordinator.Coordinator, error) {
	home := config.MustHomeFrom(cmd.Context())
	file, err := config.Load(home)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := file.Coordination()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	coord := coordinator.New(st, coordinator.NopSink{}, slog.Default(), cfg)
	return st, coord, nil
}
