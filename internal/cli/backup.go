package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/backup"
	"github.com/scrypster/memorytap/internal/config"
)

const backupLongDesc string = `Back up, list or restore the SQLite memory database.

Without flags a snapshot is written to backup.dir and old snapshots are
pruned by the retention policy. Stop the server before restoring.

Examples:
  memorytap backup
  memorytap backup --list
  memorytap backup --status
  memorytap backup --restore ./backups/memorytap-20260101-030000.db`

type backupCommander struct {
	root    *rootOptions
	list    bool
	status  bool
	restore string
}

func newBackupCmd(root *rootOptions) *cobra.Command {
	cmder := &backupCommander{root: root}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up or restore the database",
		Long:  backupLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&cmder.list, "list", "l", false, "List snapshots")
	cmd.Flags().BoolVar(&cmder.status, "status", false, "Show backup health")
	cmd.Flags().StringVar(&cmder.restore, "restore", "", "Restore the database from this snapshot")
	cmd.MarkFlagsMutuallyExclusive("list", "status", "restore")

	return cmd
}

func (c *backupCommander) run(ctx context.Context, w io.Writer) error {
	cfg, logger, err := c.root.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Engine != config.EngineSQLite {
		return fmt.Errorf("backups are only supported for the %s engine", config.EngineSQLite)
	}
	svc, err := newBackupService(cfg, logger)
	if err != nil {
		return err
	}

	switch {
	case c.list:
		snapshots, err := svc.List()
		if err != nil {
			return err
		}
		return c.root.print(w, snapshots, func(w io.Writer) error { return writeSnapshots(w, snapshots) })

	case c.status:
		status, err := svc.Health()
		if err != nil {
			return err
		}
		return c.root.print(w, status, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%s: %d snapshots, %s in %s\n",
				status.Status, status.TotalBackups, humanize.Bytes(uint64(status.DiskSpaceUsed)), status.Dir)
			return err
		})

	case c.restore != "":
		if err := svc.Restore(ctx, c.restore); err != nil {
			return err
		}
		return c.root.print(w, map[string]string{"restored": c.restore}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Restored %s from %s\n", cfg.Storage.SQLitePath(), c.restore)
			return err
		})

	default:
		result, err := svc.BackupNow(ctx)
		if err != nil {
			return err
		}
		return c.root.print(w, result, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Wrote %s (%s in %s, verified: %t)\n",
				result.Path, humanize.Bytes(uint64(result.Size)), result.Duration.Round(time.Millisecond), result.Verified)
			return err
		})
	}
}

func writeSnapshots(w io.Writer, snapshots []backup.Info) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSIZE\tPATH")
	for _, s := range snapshots {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Time(s.Timestamp), humanize.Bytes(uint64(s.Size)), s.Path)
	}
	return tw.Flush()
}
