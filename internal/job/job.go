// Package job runs long computations as cooperatively stepped jobs.
//
// A Job performs a bounded amount of work per Step and reports its progress.
// Whoever drives the job decides whether to continue; abandoning a job simply
// means no longer calling Step. Work already applied is not rolled back.
package job

import (
	"context"
	"fmt"
)

// Progress describes how far a job has come.
type Progress struct {
	Label    string
	Fraction float32 // 0.0 to 1.0 within the current phase
}

// String returns the label with a percentage.
func (p Progress) String() string {
	return fmt.Sprintf("%s %3.0f%%", p.Label, p.Fraction*100)
}

// Job is an incremental computation.
type Job interface {
	// Step performs a bounded unit of work and returns the progress made.
	// Calling Step on a finished job is a no-op.
	Step() Progress

	// Done reports whether the job has finished.
	Done() bool
}

// Run steps j until it finishes or ctx is cancelled. report, if non-nil,
// receives every progress record. On cancellation the job is left where it
// stopped and ctx.Err() is returned.
func Run(ctx context.Context, j Job, report func(Progress)) error {
	for !j.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := j.Step()
		if report != nil {
			report(p)
		}
	}
	return nil
}

// Drain runs j to completion without reporting.
func Drain(j Job) {
	for !j.Done() {
		j.Step()
	}
}
