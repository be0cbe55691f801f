package cli

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/server"
)

func newServeCommand() *cobra.Command {
	var (
		port    int
		host    string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader(dataDir).Load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if dataDir != "" {
				cfg.Store.DataDir = dataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srv, err := server.New(cfg, nil)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Printf("received %s, shutting down", sig)
				ctx, cancel := shutdownContext()
				defer cancel()
				srv.Shutdown(ctx)
			}()

			return srv.Run()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.codescope)")
	return cmd
}
