package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wara-ops/tableqa/internal/server"
	"github.com/wara-ops/tableqa/internal/server/metrics"
)

// version is set at build time via -ldflags.
var version = "dev"

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readRootFlags(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}
			origins, err := cmd.Flags().GetStringSlice("cors-origin")
			if err != nil {
				return fmt.Errorf("failed to get cors-origin flag: %w", err)
			}

			log := newLogger(f.verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, fr, err := newEngine(ctx, log, f, nil, metrics.InstrumentLLM)
			if err != nil {
				return err
			}
			defer fr.Close()
			defer engine.Close()

			srv, err := server.New(&server.Config{
				Logger:         log,
				Engine:         engine,
				Data:           fr,
				Addr:           addr,
				Version:        version,
				AllowedOrigins: origins,
			})
			if err != nil {
				return err
			}

			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().StringSlice("cors-origin", nil, "allowed CORS origin (repeatable)")

	return cmd
}
