package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/backup"
	"github.com/scrypster/memorytap/internal/config"
	"github.com/scrypster/memorytap/internal/server"
)

const serveLongDesc string = `Run the HTTP API and websocket event stream.

Recordings uploaded to POST /api/memories are transcribed and saved; every
change is pushed to the owner's open websockets. With backup.enabled and
the SQLite engine, snapshots are taken on the configured interval.

Examples:
  memorytap serve
  memorytap serve --config ./memorytap.yaml
  memorytap serve --inbox ~/Sync/Recordings
  MEMORYTAP_PORT=8080 memorytap serve --allow-origin app.example.com`

type serveCommander struct {
	root    *rootOptions
	origins []string
	inbox   string

	// ready, when set, receives the bound address once the server listens.
	ready func(addr string)
}

func newServeCmd(root *rootOptions) *cobra.Command {
	cmder := &serveCommander{root: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cmder.run(ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&cmder.origins, "allow-origin", nil, "Extra websocket origins (host[:port]) to accept")
	cmd.Flags().StringVar(&cmder.inbox, "inbox", "", "Also capture recordings dropped into this folder")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, w io.Writer) error {
	cfg, logger, err := c.root.loadConfig()
	if err != nil {
		return err
	}

	hub := server.NewWebSocketHub(c.origins, logger)
	a, err := buildApp(cfg, logger, appOptions{
		audioURL:    "/audio",
		newNotifier: hub.For,
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ident, err := newIdentity(cfg)
	if err != nil {
		return err
	}

	var backups *backup.Service
	if cfg.Backup.Enabled && cfg.Storage.Engine == config.EngineSQLite {
		backups, err = newBackupService(cfg, logger)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		go func() {
			if err := backups.Run(ctx); err != nil {
				logger.Error("backup scheduler stopped", "error", err)
			}
		}()
	}

	srv, err := server.New(server.Deps{
		Config:   cfg.Server,
		Sessions: a.sessions,
		Identity: ident,
		Insight:  a.insight,
		Hub:      hub,
		AudioDir: a.vault.Dir(),
		Backup:   backups,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	addr, err := srv.Start(ctx)
	if err != nil {
		return err
	}
	if c.inbox != "" {
		watcher, err := startInbox(ctx, a, c.root.ownerID(a), c.inbox)
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}
	fmt.Fprintf(w, "memorytap listening on http://%s\n", addr)
	if c.ready != nil {
		c.ready(addr)
	}

	<-srv.Done()
	logger.Info("shut down")
	return nil
}
