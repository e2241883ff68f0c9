// Package observability provides logger construction and formatted output
// for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/progress"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// barWidth is the width of progress bars inside a box
	barWidth = 20
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if r := []rune(line); len(r) > boxWidth-4 {
			line = string(r[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// bar renders value/total as a fixed-width bar.
func bar(value, total int) string {
	filled := 0
	if total > 0 {
		filled = min(barWidth, value*barWidth/total)
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

// PrintStages outputs the catalog.
func (p *Printer) PrintStages(c *curriculum.Catalog) {
	if c == nil {
		return
	}
	var sb strings.Builder
	for _, st := range c.Stages {
		fmt.Fprintf(&sb, "Stage %d: %s\n", st.ID, st.Title)
		for _, t := range st.Tasks {
			fmt.Fprintf(&sb, "  %s (max %d)\n", t.Label, t.MaxScore)
		}
		if c.IsFinal(st.ID) {
			fmt.Fprintf(&sb, "  pass %d to complete · badge %s\n", st.UnlockThreshold, st.Badge)
		} else {
			fmt.Fprintf(&sb, "  unlock at %d · badge %s\n", st.UnlockThreshold, st.Badge)
		}
	}
	sb.WriteString("\nRanks:\n")
	for _, r := range c.Ranks {
		fmt.Fprintf(&sb, "  %-18s %d XP\n", r.Title, r.MinExperience)
	}
	p.printBox("Curriculum", sb.String())
}

// PrintState outputs one user's progress.
func (p *Printer) PrintState(userID string, s progress.Summary, badges []string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rank:       %s\n", s.Rank.Rank)
	fmt.Fprintf(&sb, "Experience: %d (%d%%)\n", s.Experience, s.CompletionPercent)
	if s.Rank.NextRank != "" {
		fmt.Fprintf(&sb, "Next rank:  %s in %d XP\n", s.Rank.NextRank, s.Rank.Remaining)
	}
	sb.WriteString("\n")
	for _, st := range s.Stages {
		lock := " "
		if !st.Unlocked {
			lock = "x"
		}
		fmt.Fprintf(&sb, "%s Stage %d %s %3d/%d\n", lock, st.StageID, bar(st.Score, st.MaxScore), st.Score, st.MaxScore)
	}
	if len(badges) > 0 {
		fmt.Fprintf(&sb, "\nBadges: %s\n", strings.Join(badges, ", "))
	}
	p.printBox("Progress: "+userID, sb.String())
}

// PrintAttempt outputs the outcome of a recorded attempt.
func (p *Printer) PrintAttempt(r *progress.AttemptResult) {
	if r == nil {
		return
	}
	var sb strings.Builder
	switch {
	case r.Duplicate:
		sb.WriteString("Submission already recorded; nothing changed.\n")
	default:
		fmt.Fprintf(&sb, "XP gained:   %d\n", r.XPDelta)
		fmt.Fprintf(&sb, "Stage score: %d\n", r.StageScore)
		fmt.Fprintf(&sb, "Experience:  %d (%s)\n", r.State.Experience, r.State.Rank)
	}
	if r.Unlocked {
		fmt.Fprintf(&sb, "Unlocked stage %d!\n", r.State.CurrentStage)
	}
	if r.Completed {
		sb.WriteString("Curriculum complete!\n")
	}
	p.printBox("Attempt recorded", sb.String())
}

// PrintUsers outputs the admin listing.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintUsers(records []progress.UserRecord) {
	if len(records) == 0 {
		fmt.Fprintln(p.out, "No users.")
		return
	}
	var sb strings.Builder
	for _, r := range records {
		name := r.State.Profile.DisplayName
		if name == "" {
			name = r.ID
		}
		fmt.Fprintf(&sb, "%-20s %4d XP  stage %d  %s\n", name, r.State.Experience, r.State.CurrentStage, r.State.Rank)
	}
	p.printBox(fmt.Sprintf("Users (%d)", len(records)), sb.String())
}
