package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/query"
	"github.com/scrypster/memorytap/pkg/types"
)

type focusReport struct {
	types.Briefing
	Priorities []*types.Memory `json:"priorities"`
	Reminders  []*types.Memory `json:"reminders"`
}

func newFocusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "focus",
		Short: "Show the model's priorities among pending tasks and reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), root, func(a *app, s *engine.Session) error {
				snap, err := s.Snapshot()
				if err != nil {
					return err
				}
				b := a.insight.Briefing(cmd.Context(), snap)
				report := focusReport{
					Briefing:   b,
					Priorities: query.ResolvePriorities(snap, b.PriorityIDs),
					Reminders:  query.Reminders(snap),
				}
				return root.print(cmd.OutOrStdout(), report, func(w io.Writer) error {
					return writeFocus(w, report)
				})
			})
		},
	}
}

func writeFocus(w io.Writer, r focusReport) error {
	if _, err := fmt.Fprintf(w, "%s\n\n", r.Analysis); err != nil {
		return err
	}
	if len(r.Priorities) > 0 {
		fmt.Fprintln(w, "Priorities:")
		if err := writeMemories(w, r.Priorities); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Reminders:")
	return writeMemories(w, r.Reminders)
}

type analyticsReport struct {
	Stats  query.Stats       `json:"stats"`
	Habits types.HabitReport `json:"habits"`
}

func newAnalyticsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show collection statistics and a habit report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), root, func(a *app, s *engine.Session) error {
				snap, err := s.Snapshot()
				if err != nil {
					return err
				}
				report := analyticsReport{
					Stats:  query.Summarize(snap),
					Habits: a.insight.HabitAnalysis(cmd.Context(), snap),
				}
				return root.print(cmd.OutOrStdout(), report, func(w io.Writer) error {
					return writeAnalytics(w, report)
				})
			})
		},
	}
}

func writeAnalytics(w io.Writer, r analyticsReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", r.Stats.Total)
	for _, c := range types.ValidCategories {
		fmt.Fprintf(tw, "  %s:\t%d\n", c, r.Stats.ByCategory[c])
	}
	fmt.Fprintf(tw, "Favorites:\t%d\n", r.Stats.Favorites)
	fmt.Fprintf(tw, "Pending tasks and reminders:\t%d\n", r.Stats.PendingActionable)
	fmt.Fprintf(tw, "Completion (tasks and reminders):\t%d%%\n", r.Stats.ActionableCompletionRate)
	fmt.Fprintf(tw, "Completion (all):\t%d%%\n", r.Stats.OverallCompletionRate)
	fmt.Fprintf(tw, "Productivity score:\t%d\n", r.Habits.ProductivityScore)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n%s\n", r.Habits.Pattern, r.Habits.Suggestion)
	return err
}
