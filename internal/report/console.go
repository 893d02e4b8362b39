package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"voxeltest.ai/internal/gametest"
)

// Console logs every lifecycle event of the run.
type Console struct {
	Logger *log.Logger
}

var _ gametest.Listener = Console{}

func (c Console) OnStructureLoaded(inst *gametest.Instance) {
	c.Logger.Debug("arena placed", "test", inst.Name(), "attempt", inst.Attempt(), "box", inst.Bounds().String())
}

func (c Console) OnPassed(inst *gametest.Instance, _ *gametest.Runner) {
	c.Logger.Info("passed", "test", inst.Name(), "attempt", inst.Attempt(), "ticks", inst.Tick())
}

func (c Console) OnFailed(inst *gametest.Instance, _ *gametest.Runner) {
	kv := []any{"test", inst.Name(), "attempt", inst.Attempt(), "code", gametest.Code(inst.Err()), "err", inst.Err()}
	if inst.Required() {
		c.Logger.Error("failed", kv...)
		return
	}
	c.Logger.Warn("failed (optional)", kv...)
}

func (c Console) OnAddedForRerun(prev, next *gametest.Instance, _ *gametest.Runner) {
	c.Logger.Info("rerun scheduled", "test", prev.Name(), "attempt", next.Attempt())
}

// PrintSummary writes a short human readable summary of s.
func PrintSummary(w io.Writer, s Summary) error {
	d := time.Duration(s.DurationMs) * time.Millisecond
	_, err := fmt.Fprintf(w, "%s tests in %s: %s passed, %s required failed, %s optional failed, %s not run\n",
		humanize.Comma(int64(s.Counts.Total)),
		d.Round(time.Millisecond),
		humanize.Comma(int64(s.Counts.Passed)),
		humanize.Comma(int64(s.Counts.FailedRequired)),
		humanize.Comma(int64(s.Counts.FailedOptional)),
		humanize.Comma(int64(s.Counts.NotRun)),
	)
	if err != nil {
		return err
	}
	for _, tr := range s.Tests {
		if tr.State != "FAILED" {
			continue
		}
		tag := "required"
		if !tr.Required {
			tag = "optional"
		}
		if _, err := fmt.Fprintf(w, "  %s #%d [%s %s] %s\n", tr.Name, tr.Attempt, tag, tr.Code, tr.Error); err != nil {
			return err
		}
	}
	for _, v := range s.Flaky {
		verdict := "passed"
		if !v.Passed {
			verdict = "failed"
		}
		if _, err := fmt.Fprintf(w, "  flaky %s %s: %d/%d successes after %d attempts\n",
			v.Name, verdict, v.Successes, v.RequiredSuccesses, v.Attempts); err != nil {
			return err
		}
	}
	return nil
}
