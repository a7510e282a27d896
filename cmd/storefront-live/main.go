package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storefront-live",
	Short: "Session and realtime notification runtime for the storefront",
	Long: `storefront-live keeps a storefront session alive across short-lived access
tokens and tails the realtime notification feed for the signed-in user.

The devserver command runs local stand-ins for the auth and realtime services.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(newWatchCmd(), newDevServerCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
