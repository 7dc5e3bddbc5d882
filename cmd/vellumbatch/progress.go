package main

import (
	"github.com/schollz/progressbar/v3"

	"github.com/lamim/vellumbatch/internal/batch"
)

// barReporter renders waiter progress; a new bar starts whenever the set of
// awaited requests changes
type barReporter struct {
	bar   *progressbar.ProgressBar
	total int
}

func newBarReporter() *barReporter {
	return &barReporter{}
}

func (r *barReporter) Report(p batch.Progress) {
	if r.bar == nil || p.Total != r.total {
		r.Close()
		r.bar = progressbar.Default(int64(p.Total), "Waiting for batches")
		r.total = p.Total
	}
	_ = r.bar.Set(p.Completed + p.Failed)

	if p.TerminalJobs == p.Jobs {
		r.Close()
	}
}

// Close finishes the current bar, if any
func (r *barReporter) Close() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}
