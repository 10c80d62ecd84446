package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/inbox"
	"github.com/scrypster/memorytap/pkg/types"
)

const watchLongDesc string = `Watch a folder and capture every recording dropped into it.

Point a phone recorder's sync folder here. Each finished file is captured
for the owner and moved to processed/, or to failed/ when it is rejected.

Examples:
  memorytap watch ~/Sync/Recordings
  memorytap watch ./inbox --owner alice`

// An inbox file waits at most inFlightRetries * inFlightBackoff for a
// capture that is already running.
const (
	inFlightRetries = 20
	inFlightBackoff = 500 * time.Millisecond
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Capture recordings dropped into a folder",
		Long:  watchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, root, args[0], cmd.OutOrStdout())
		},
	}
}

func runWatch(ctx context.Context, root *rootOptions, dir string, w io.Writer) error {
	a, err := root.openApp(appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	watcher, err := startInbox(ctx, a, root.ownerID(a), dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Watching %s\n", dir)

	<-ctx.Done()
	watcher.Stop()

	handled, failed := watcher.Stats()
	fmt.Fprintf(w, "Captured %d recordings, %d failed\n", handled-failed, failed)
	return nil
}

// startInbox watches dir and submits each recording to ownerID's pipeline.
// The session is looked up per file so a sign-out in between is harmless.
func startInbox(ctx context.Context, a *app, ownerID, dir string) (*inbox.Watcher, error) {
	handler := func(ctx context.Context, path string) error {
		artifact, err := readRecording(ctx, path, a.cfg.Server.MaxUploadBytes)
		if err != nil {
			return err
		}

		for attempt := 0; ; attempt++ {
			s, err := a.sessions.Open(ctx, ownerID)
			if err != nil {
				return err
			}
			_, err = s.Pipeline().Submit(ctx, artifact)
			if !errors.Is(err, engine.ErrCaptureInFlight) || attempt == inFlightRetries {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(inFlightBackoff):
			}
		}
	}

	watcher, err := inbox.NewWatcher(dir, handler, inbox.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher, nil
}

// readRecording loads a finished recording through a FileCapturer, which
// caps its size and sets the content type.
func readRecording(ctx context.Context, path string, maxBytes int64) (types.AudioArtifact, error) {
	c := audio.NewFileCapturer(path, maxBytes)
	h, err := c.StartCapture(ctx)
	if err != nil {
		return types.AudioArtifact{}, err
	}
	return c.StopCapture(ctx, h)
}
