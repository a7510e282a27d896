package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"storefront-live/internal/app"
	"storefront-live/internal/apperr"
	"storefront-live/internal/config"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
	"storefront-live/internal/session"
)

func newWatchCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Boot a session and tail notifications",
		Long: `Boot the client runtime, optionally sign in, and print notifications and
popups as they arrive. Without --email the existing session (if any) is used.

Examples:
  storefront-live watch --email seller@example.com --password password
  STOREFRONT_PASSWORD=password storefront-live watch --email seller@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("STOREFRONT_PASSWORD")
			}
			return runWatch(cmd, email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "sign in with this email")
	cmd.Flags().StringVar(&password, "password", "", "password for --email (or STOREFRONT_PASSWORD)")
	return cmd
}

func runWatch(cmd *cobra.Command, email, password string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	rt, err := app.New(app.Options{
		Config: cfg,
		Out:    out,
		Logger: logger,
		Nav: session.NavigatorFunc(func(dest model.Destination) {
			fmt.Fprintf(out, "navigate %s\n", dest)
		}),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	stateColor := map[model.ConnectionState]*color.Color{
		model.StateConnected:    color.New(color.FgGreen),
		model.StateConnecting:   color.New(color.FgYellow),
		model.StateDisconnected: color.New(color.Faint),
		model.StateFailed:       color.New(color.FgRed, color.Bold),
	}
	cancel := rt.Realtime.OnStateChange(func(s model.ConnectionState) {
		stateColor[s].Fprintf(out, "realtime %s\n", s)
	})
	defer cancel()

	ctx := cmd.Context()
	rt.Start(ctx)

	if email != "" {
		id, err := rt.Login(ctx, email, password)
		switch {
		case errors.Is(err, apperr.ErrPendingVerification):
			fmt.Fprintf(out, "navigate %s\n", model.DestVerificationPending)
			return err
		case err != nil:
			return err
		}
		fmt.Fprintf(out, "signed in as %s (%s)\n", id.Email, id.Role)
		rt.Session.RedirectToDashboard()
	} else if !rt.Session.IsAuthenticated() {
		return fmt.Errorf("no session: pass --email to sign in")
	}

	<-ctx.Done()
	fmt.Fprintf(out, "%d notifications, %d unread\n", rt.Notifications.Len(), rt.Notifications.UnreadCount())
	return nil
}
