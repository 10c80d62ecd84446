package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/query"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

const listLongDesc string = `List memories, newest first.

A query matches title, summary or transcript, case-insensitively.

Examples:
  memorytap list
  memorytap list --category reminder
  memorytap list --query groceries --favorites`

type listCommander struct {
	root      *rootOptions
	category  string
	query     string
	favorites bool
}

func newListCmd(root *rootOptions) *cobra.Command {
	cmder := &listCommander{root: root}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.category, "category", "all", "Filter by category: all, task, reminder, idea or note")
	cmd.Flags().StringVarP(&cmder.query, "query", "q", "", "Search text")
	cmd.Flags().BoolVar(&cmder.favorites, "favorites", false, "Only favorites")

	return cmd
}

func (c *listCommander) run(ctx context.Context, w io.Writer) error {
	category, err := types.ParseCategory(c.category, true)
	if err != nil {
		return err
	}

	return withSession(ctx, c.root, func(_ *app, s *engine.Session) error {
		snap, err := s.Snapshot()
		if err != nil {
			return err
		}
		out := query.FilterAndSearch(snap, category, c.query)
		if c.favorites {
			out = query.Favorites(out)
		}
		return c.root.print(w, out, func(w io.Writer) error { return writeMemories(w, out) })
	})
}

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), root, func(_ *app, s *engine.Session) error {
				m, ok := s.Cache().Get(args[0])
				if !ok {
					return fmt.Errorf("memory %s: %w", args[0], storage.ErrNotFound)
				}
				return root.print(cmd.OutOrStdout(), m, func(w io.Writer) error { return writeMemory(w, m) })
			})
		},
	}
}

// toggleResult is printed by favorite and complete.
type toggleResult struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

func newFavoriteCmd(root *rootOptions) *cobra.Command {
	return newToggleCmd(root, "favorite", "Toggle the favorite flag", "favorite",
		func(ctx context.Context, r *engine.MutationRouter, id string) (bool, error) {
			return r.ToggleFavorite(ctx, id)
		})
}

func newCompleteCmd(root *rootOptions) *cobra.Command {
	return newToggleCmd(root, "complete", "Toggle the completion flag of a task or reminder", "completed",
		func(ctx context.Context, r *engine.MutationRouter, id string) (bool, error) {
			return r.ToggleCompletion(ctx, id)
		})
}

func newToggleCmd(root *rootOptions, use, short, label string, toggle func(context.Context, *engine.MutationRouter, string) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withSession(cmd.Context(), root, func(_ *app, s *engine.Session) error {
				value, err := toggle(cmd.Context(), s.Router(), id)
				if err != nil {
					return err
				}
				res := toggleResult{ID: id, Value: value}
				return root.print(cmd.OutOrStdout(), res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s %s: %t\n", id, label, value)
					return err
				})
			})
		},
	}
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a memory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withSession(cmd.Context(), root, func(_ *app, s *engine.Session) error {
				if err := s.Router().Delete(cmd.Context(), id); err != nil {
					return err
				}
				return root.print(cmd.OutOrStdout(), map[string]string{"deleted": id}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted %s\n", id)
					return err
				})
			})
		},
	}
}

// withSession opens the app and the owner's session, runs fn and closes
// everything again.
func withSession(ctx context.Context, root *rootOptions, fn func(*app, *engine.Session) error) error {
	return withSessionOpts(ctx, root, appOptions{}, fn)
}

func withSessionOpts(ctx context.Context, root *rootOptions, opts appOptions, fn func(*app, *engine.Session) error) error {
	a, err := root.openApp(opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	s, err := a.sessions.Open(ctx, root.ownerID(a))
	if err != nil {
		return err
	}
	return fn(a, s)
}
