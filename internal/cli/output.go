package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/scrypster/memorytap/pkg/types"
)

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeMemories prints a memory table.
func writeMemories(w io.Writer, memories []*types.Memory) error {
	if len(memories) == 0 {
		_, err := fmt.Fprintln(w, "No memories.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tFLAGS\tCREATED\tTITLE")
	for _, m := range memories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Category, flags(m), m.CreatedAt.Local().Format(time.DateTime), m.Title)
	}
	return tw.Flush()
}

// writeMemory prints one memory in full.
func writeMemory(w io.Writer, m *types.Memory) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", m.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", m.Title)
	fmt.Fprintf(tw, "Category:\t%s\n", m.Category)
	fmt.Fprintf(tw, "Created:\t%s\n", m.CreatedAt.Local().Format(time.DateTime))
	if f := flags(m); f != "-" {
		fmt.Fprintf(tw, "Flags:\t%s\n", f)
	}
	if m.AudioRef != "" {
		fmt.Fprintf(tw, "Audio:\t%s\n", m.AudioRef)
	}
	fmt.Fprintf(tw, "Summary:\t%s\n", m.Summary)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", m.Content)
	return err
}

func flags(m *types.Memory) string {
	var f []string
	if m.IsFavorite {
		f = append(f, "favorite")
	}
	if m.IsCompleted && m.Category.Actionable() {
		f = append(f, "done")
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}

// print writes v as JSON or hands it to text when the format is text.
func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer) error) error {
	if o.format == formatText {
		return text(w)
	}
	return writeJSON(w, v)
}
