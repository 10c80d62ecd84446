package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/archive"
	"github.com/scrypster/memorytap/internal/engine"
)

const exportLongDesc string = `Write every memory of the owner as a Markdown note below <dir>.

Notes are grouped in one folder per category and carry YAML frontmatter,
so the directory can be opened as an Obsidian vault or imported into
another store with "memorytap import".

Examples:
  memorytap export ./notes
  memorytap export ./notes --owner alice`

const importLongDesc string = `Read Markdown notes below <dir> into the owner's collection.

Notes exported by memorytap keep their IDs and are skipped when already
stored. Other notes take their title from the first heading or the file
name and their category from the folder they sit in.

Examples:
  memorytap import ./notes
  memorytap import ~/Obsidian/Inbox --format text`

func newExportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Export memories as Markdown notes",
		Long:  exportLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), root, args[0], cmd.OutOrStdout())
		},
	}
}

func runExport(ctx context.Context, root *rootOptions, dir string, w io.Writer) error {
	return withSession(ctx, root, func(_ *app, s *engine.Session) error {
		snap, err := s.Snapshot()
		if err != nil {
			return err
		}
		res, err := archive.Export(ctx, dir, snap)
		if err != nil {
			return err
		}
		return root.print(w, res, func(w io.Writer) error {
			if _, err := fmt.Fprintf(w, "Exported %d memories to %s\n", res.Written, res.Dir); err != nil {
				return err
			}
			return writeErrors(w, res.Errors)
		})
	})
}

func newImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Import Markdown notes as memories",
		Long:  importLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, args[0], cmd.OutOrStdout())
		},
	}
}

func runImport(ctx context.Context, root *rootOptions, dir string, w io.Writer) error {
	a, err := root.openApp(appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := archive.NewImporter(a.store, root.ownerID(a), a.logger).Import(ctx, dir)
	if err != nil {
		return err
	}
	return root.print(w, res, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "Imported %d memories from %d files (%d skipped, %d failed)\n",
			res.MemoriesCreated, res.FilesFound, res.FilesSkipped, res.FilesFailed); err != nil {
			return err
		}
		return writeErrors(w, res.Errors)
	})
}

func writeErrors(w io.Writer, errs []string) error {
	for _, e := range errs {
		if _, err := fmt.Fprintf(w, "  %s\n", e); err != nil {
			return err
		}
	}
	return nil
}
