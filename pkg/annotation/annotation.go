// Package annotation decides which activities get a journey block and renders it.
package annotation

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fitglue/journey/pkg/description"
	"github.com/fitglue/journey/pkg/progress"
	"github.com/fitglue/journey/pkg/types"
)

const (
	DefaultSignature     = "Quest to Mount Doom ⭕🌋"
	DefaultDisplayFactor = 1.609
)

type Options struct {
	// Signature is the header line of every block and the marker of a prior annotation.
	Signature string
	// DisplayFactor converts miles to kilometres for display only.
	DisplayFactor float64
	// RefreshStale replaces an existing block whose text is out of date
	// instead of leaving the activity alone.
	RefreshStale bool
}

type Guard struct {
	opts    Options
	printer *message.Printer
}

func NewGuard(opts Options) *Guard {
	if opts.Signature == "" {
		opts.Signature = DefaultSignature
	}
	if opts.DisplayFactor <= 0 {
		opts.DisplayFactor = DefaultDisplayFactor
	}
	return &Guard{opts: opts, printer: message.NewPrinter(language.English)}
}

// Window returns the n most recent steps. steps must be in chronological order.
func Window(steps []progress.Step, n int) []progress.Step {
	if n <= 0 {
		return nil
	}
	if n >= len(steps) {
		return steps
	}
	return steps[len(steps)-n:]
}

// ShouldAnnotate is false once the description carries the signature.
func (g *Guard) ShouldAnnotate(a types.Activity) bool {
	return !description.HasSection(a.Description, g.opts.Signature)
}

// Render builds the block for one activity.
func (g *Guard) Render(state progress.State, startDate types.Date) string {
	var sb strings.Builder
	sb.WriteString(g.opts.Signature)
	sb.WriteString("\n")
	sb.WriteString(g.printer.Sprintf("Reached: %s\n", state.Stage))
	sb.WriteString(g.printer.Sprintf("Total Journey: %.1f mi (%.1f km)\n",
		state.CumulativeMiles, state.CumulativeMiles*g.opts.DisplayFactor))
	sb.WriteString(g.printer.Sprintf("Start Date: %s", startDate.String()))
	return sb.String()
}

// Apply appends text after a blank line, keeping the existing description intact.
func (g *Guard) Apply(existing, text string) string {
	return description.AppendSection(existing, text)
}

// Decide returns the description to write for a, and false when nothing
// should be written.
func (g *Guard) Decide(a types.Activity, text string) (string, bool) {
	if g.ShouldAnnotate(a) {
		return g.Apply(a.Description, text), true
	}
	if !g.opts.RefreshStale {
		return a.Description, false
	}
	current, _ := description.Section(a.Description, g.opts.Signature)
	if current == text {
		return a.Description, false
	}
	return description.ReplaceSection(a.Description, g.opts.Signature, text), true
}
