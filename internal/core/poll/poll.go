// Package poll provides the bounded retry loop used by every wait in the
// assessment.
package poll

import (
	"iter"
	"time"
)

// DefaultInterval separates consecutive attempts.
const DefaultInterval = time.Second

// Poller yields a bounded number of attempts. The zero value sleeps
// DefaultInterval between attempts.
type Poller struct {
	Interval time.Duration
	Sleep    func(time.Duration)
}

// New returns a Poller that waits interval between attempts.
func New(interval time.Duration) Poller {
	return Poller{Interval: interval}
}

// Until yields attempt indexes 0..budget-1. The caller performs one check per
// attempt and breaks out of the loop on success. A loop that runs to
// completion means the budget was exhausted; Until never reports the timeout
// itself. Every call starts a fresh budget.
func (p Poller) Until(budget int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for attempt := range budget {
			if attempt > 0 {
				p.sleep()
			}
			if !yield(attempt) {
				return
			}
		}
	}
}

// Check runs fn until it reports done or the budget runs out. It returns the
// number of attempts made and whether fn succeeded. A non-nil error from fn
// stops polling immediately.
func (p Poller) Check(budget int, fn func(attempt int) (bool, error)) (int, bool, error) {
	attempts := 0
	for attempt := range p.Until(budget) {
		attempts++
		done, err := fn(attempt)
		if err != nil {
			return attempts, false, err
		}
		if done {
			return attempts, true, nil
		}
	}
	return attempts, false, nil
}

func (p Poller) sleep() {
	interval := p.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if p.Sleep != nil {
		p.Sleep(interval)
		return
	}
	time.Sleep(interval)
}
