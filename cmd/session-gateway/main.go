package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/cmd/session-gateway/apiserver"
	"github.com/openkcm/session-gateway/cmd/session-gateway/checksession"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	isVersionCmd     bool
	gracefulShutdown time.Duration
)

func versionCmd(buildInfo string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			isVersionCmd = true

			value, err := utils.ExtractFromComplexValue(buildInfo)
			if err != nil {
				return fmt.Errorf("reading build info: %w", err)
			}

			slog.InfoContext(cmd.Context(), value)

			return nil
		},
	}
}

func rootCmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "session-gateway",
		Short:        "Session Gateway",
		Long:         "KCM Session Gateway resolves identity provider sessions for server rendered pages and drives the browser self-service flows.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().DurationVar(&gracefulShutdown, "graceful-shutdown", 1*time.Second, "time to wait after the command returns")

	cmd.AddCommand(
		versionCmd(buildInfo),
		apiserver.Cmd(buildInfo),
		checksession.Cmd(buildInfo),
	)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	if err := rootCmd(BuildInfo).ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "failed to start the application", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if !isVersionCmd {
		_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
