// Room relay bot: forwards user messages to an operator chat, routes replies
// back and runs operator broadcasts.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Telegram room relay bot",
		Long:          "relaybot relays messages between users and an operator chat, gated by a daily room selection, and lets the operator broadcast to all users or one room.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newPruneCmd(),
	)
	return rootCmd
}
