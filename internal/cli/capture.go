package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/pkg/types"
)

const captureLongDesc string = `Capture a memory from a finished recording.

The file is transcribed, titled and categorized by the configured model
provider and saved for the owner. Recordings below the minimum size are
rejected without calling the model.

Examples:
  memorytap capture ./note.webm
  memorytap capture ./voice.m4a --owner alice --format text`

type captureCommander struct {
	root *rootOptions
}

func newCaptureCmd(root *rootOptions) *cobra.Command {
	cmder := &captureCommander{root: root}

	return &cobra.Command{
		Use:   "capture <file>",
		Short: "Capture a memory from an audio file",
		Long:  captureLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func (c *captureCommander) run(ctx context.Context, w io.Writer, path string) error {
	opts := appOptions{
		newCapturer: func(string) audio.Capturer { return audio.NewFileCapturer(path, 0) },
	}

	return withSessionOpts(ctx, c.root, opts, func(_ *app, s *engine.Session) error {
		p := s.Pipeline()
		if err := p.Start(ctx); err != nil {
			return err
		}
		m, err := p.Stop(ctx)
		if err != nil {
			return err
		}
		return c.root.print(w, m, func(w io.Writer) error { return writeMemories(w, []*types.Memory{m}) })
	})
}
