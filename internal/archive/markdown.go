// Package archive exports memories as Markdown notes with YAML frontmatter
// and imports them back, which moves a collection between stores or into a
// notes app such as Obsidian.
package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/memorytap/pkg/types"
)

// frontmatter is the YAML header of an exported note.
type frontmatter struct {
	ID          string    `yaml:"id,omitempty"`
	Title       string    `yaml:"title,omitempty"`
	Category    string    `yaml:"category,omitempty"`
	Created     time.Time `yaml:"created,omitempty"`
	Favorite    bool      `yaml:"favorite,omitempty"`
	Completed   bool      `yaml:"completed,omitempty"`
	Audio       string    `yaml:"audio,omitempty"`
	DurationSec float64   `yaml:"duration_sec,omitempty"`
	Tags        []string  `yaml:"tags,omitempty"`
}

// RenderNote renders m as a Markdown note: frontmatter, an H1 title, the
// summary as a quote and the transcript.
func RenderNote(m *types.Memory) ([]byte, error) {
	fm := frontmatter{
		ID:          m.ID,
		Title:       m.Title,
		Category:    string(m.Category),
		Created:     m.CreatedAt.UTC(),
		Favorite:    m.IsFavorite,
		Completed:   m.IsCompleted,
		Audio:       m.AudioRef,
		DurationSec: m.DurationSec,
		Tags:        []string{"memorytap", string(m.Category)},
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", m.ID, err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", m.Title)
	}
	if m.Summary != "" {
		for _, line := range strings.Split(strings.TrimSpace(m.Summary), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}
	if content := strings.TrimSpace(m.Content); content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.Bytes(), nil
}

// NotePath returns where an exported note is written, relative to the
// export root: <category>/<date>-<title-slug>-<short id>.md.
func NotePath(m *types.Memory) string {
	slug := sanitizeSegment(m.Title)
	if slug == "" {
		slug = "memory"
	}
	if r := []rune(slug); len(r) > 48 {
		slug = strings.Trim(string(r[:48]), "-")
	}
	short := m.ID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s-%s-%s.md", m.CreatedAt.UTC().Format("2006-01-02"), slug, sanitizeSegment(short))
	return filepath.Join(string(m.Category), name)
}

// ParseNote reads a note back into a memory. Notes written by other tools
// are accepted: the title falls back to the first H1 and then the file
// name, the category to the note's directory, and the first quote block
// becomes the summary. ID and OwnerID are left for the caller when the
// frontmatter has none.
func ParseNote(content []byte, relativePath string) (*types.Memory, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	title := fm.Title
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	rawCategory := fm.Category
	if rawCategory == "" {
		rawCategory = categoryFromPath(relativePath)
	}
	category, err := types.ParseCategory(rawCategory, false)
	if err != nil {
		category = types.CategoryNote
	}

	summary, transcript := splitBody(body)

	return &types.Memory{
		ID:          fm.ID,
		Title:       title,
		Summary:     summary,
		Content:     transcript,
		Category:    category,
		AudioRef:    fm.Audio,
		IsFavorite:  fm.Favorite,
		IsCompleted: fm.Completed,
		CreatedAt:   fm.Created,
		DurationSec: fm.DurationSec,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. A note without frontmatter is all body.
func splitFrontmatter(text string) (frontmatter, string, error) {
	var fm frontmatter

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fm, "", err
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return fm, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return fm, text, nil
	}

	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return frontmatter{}, text, fmt.Errorf("invalid YAML: %w", err)
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

// splitBody drops the H1 title and returns the first quote block as the
// summary and the rest as the transcript.
func splitBody(body string) (summary, transcript string) {
	var quote, rest []string
	inQuote, quoteDone, titleDone := false, false, false

	for _, line := range strings.Split(body, "\n") {
		switch {
		case !titleDone && strings.HasPrefix(line, "# "):
			titleDone = true
		case !quoteDone && strings.HasPrefix(line, ">"):
			inQuote = true
			quote = append(quote, strings.TrimSpace(strings.TrimPrefix(line, ">")))
		default:
			if inQuote {
				inQuote, quoteDone = false, true
			}
			rest = append(rest, line)
		}
	}
	return strings.TrimSpace(strings.Join(quote, " ")), strings.TrimSpace(strings.Join(rest, "\n"))
}

// categoryFromPath returns the directory a note sits in, or "" at the root.
func categoryFromPath(rel string) string {
	dir := filepath.Base(filepath.Dir(rel))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return dir
}

// titleFromPath derives a human-readable title from the file name (no extension).
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) found in the body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// sanitizeSegment makes s safe to use in a file name.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
