// File: instance/fairrx.go
// Author: momentics <momentics@gmail.com>
//
// The fair Rx budgeting algorithm is exposed as a pure function over
// an abstract per-channel receive step so it can be unit-tested
// without real shared-memory channels, the same way link.NextBackoff
// isolates the backoff policy.

package instance

// RxStep is one channel's bounded receive call: pop up to budget units
// of work and report how many were actually done.
type RxStep func(budget int) (int, error)

// RunFairRx gives each of n channels a share of totalBudget equal to
// max(1, (totalBudget-workDone)/n), computed once at the start of each
// pass so every channel in a pass gets the same share, iterates them in order, and
// re-iterates the whole set whenever some channel consumed its full
// share in the pass just completed (a signal more work may be
// pending). It stops once total work reaches totalBudget or a full
// pass leaves every channel under its share, i.e. no channel "did
// more": bounded starvation, no
// channel sees more than its fair share within one tick, and a busy
// channel never blocks the others.
func RunFairRx(steps []RxStep, totalBudget int) (int, error) {
	n := len(steps)
	if n == 0 || totalBudget <= 0 {
		return 0, nil
	}

	work := 0
	for {
		anyFull := false
		share := (totalBudget - work) / n
		if share < 1 {
			share = 1
		}
		for _, rx := range steps {
			if work >= totalBudget {
				return work, nil
			}
			got, err := rx(share)
			if err != nil {
				return work, err
			}
			work += got
			if got >= share {
				anyFull = true
			}
		}
		if !anyFull || work >= totalBudget {
			return work, nil
		}
	}
}
