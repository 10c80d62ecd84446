// Package cli implements the memorytap command line: the HTTP server and
// local commands that capture, list and change memories directly against
// the configured store.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const rootLongDesc string = `memorytap turns short voice recordings into transcribed, titled and
categorized memories, and keeps them in a local SQLite database or a
shared PostgreSQL one.

Configuration comes from MEMORYTAP_* environment variables, optionally
layered over a YAML file given with --config.

Examples:
  memorytap serve
  memorytap capture ./note.webm
  memorytap list --category task
  memorytap focus --format text`

const rootShortDesc string = "Voice-note memory collection"

// Output formats.
const (
	formatJSON = "json"
	formatText = "text"
)

type rootOptions struct {
	configPath string
	owner      string
	format     string
	verbose    bool

	// logWriter overrides stderr for log output.
	logWriter io.Writer
}

// NewRootCmd builds the memorytap command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "memorytap",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.logWriter == nil {
				opts.logWriter = cmd.ErrOrStderr()
			}
			switch opts.format {
			case formatJSON, formatText:
				return nil
			default:
				return fmt.Errorf("unknown format %q: must be json or text", opts.format)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.owner, "owner", "o", "", "Owner to act as (default: security.owner_id)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", formatJSON, "Output format: json or text")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCaptureCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newFavoriteCmd(opts))
	cmd.AddCommand(newCompleteCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newFocusCmd(opts))
	cmd.AddCommand(newAnalyticsCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newBackupCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))

	return cmd
}

// ownerID returns the owner named by --owner, or the configured static
// owner.
func (o *rootOptions) ownerID(a *app) string {
	if o.owner != "" {
		return o.owner
	}
	return a.cfg.Security.OwnerID
}
