package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/webitel/relay-probe/internal/domain/model"
)

// Printer writes a human-readable summary for every report it receives.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) OnReport(_ context.Context, r *model.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.out, Render(r))
	return err
}

// Render formats one report: a PASS/FAIL line per assertion, then the summary.
func Render(r *model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "relay %s (run %s)\n", r.Relay, r.RunID)
	if r.MessageID != "" {
		fmt.Fprintf(&b, "  message  %s #%s=%s\n", r.MessageID, r.TagName, r.TagValue)
	}
	switch {
	case r.InfoError != "":
		fmt.Fprintf(&b, "  nips     unavailable: %s\n", r.InfoError)
	case len(r.SupportedNIPs) > 0:
		fmt.Fprintf(&b, "  nips     %v\n", r.SupportedNIPs)
	}

	for _, c := range r.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		if c.Detail != "" {
			fmt.Fprintf(&b, "  %s %s: %s\n", status, c.Name, c.Detail)
		} else {
			fmt.Fprintf(&b, "  %s %s\n", status, c.Name)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  ERROR %s\n", r.Error)
	}

	verdict := "FAILED"
	if r.Passed() {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "%s in %dms (by id: %d, by tag: %d)\n", verdict, r.Duration, r.ByIDCount, r.ByTagCount)

	return b.String()
}
