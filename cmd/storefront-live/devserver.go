package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"storefront-live/internal/config"
	"storefront-live/internal/devserver/server"
	"storefront-live/internal/devserver/store"
	"storefront-live/internal/logging"
)

func newDevServerCmd() *cobra.Command {
	var noSeed bool
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run local auth and realtime services",
		Long: `Run the stand-in auth service (login, refresh, profile, registration) and the
realtime socket on one port. Seeded accounts all use the password "password":
admin@example.com, seller@example.com, pending@example.com, shopper@example.com.

Push an event:
  curl -X POST localhost:3000/realtime/publish -H "X-Realtime-Secret: $REALTIME_SECRET" \
    -d '{"channel":"private-role-seller","event":"low-stock","data":{"title":"Low stock"}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDevServerConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			gin.SetMode(cfg.GinMode)

			st := store.NewWithOptions(store.Options{StateFile: cfg.StateFile})
			if !noSeed {
				if err := st.Seed(store.DevSeeds()); err != nil {
					return fmt.Errorf("seed accounts: %w", err)
				}
			}

			router := server.NewRouter(server.DepsFromConfig(cfg, st, logger))
			logger.Info("listening", "addr", fmt.Sprintf(":%d", cfg.Port))
			return server.Serve(cmd.Context(), cfg, router)
		},
	}
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "start without the development accounts")
	return cmd
}
