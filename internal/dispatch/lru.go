package dispatch

import (
	"github.com/coven/busd/internal/state"
	"github.com/coven/busd/pkg/types"
)

// selectWorker picks the dispatch target: prefer a worker already parked
// in poll_task (polling) over one merely idle, then break ties by oldest
// LastActivity, then by registration order for a fully deterministic
// pick. Returns nil if no worker is available.
func selectWorker(st *state.State) *state.Worker {
	var pollingBest, idleBest *state.Worker

	for _, name := range st.WorkerNames() {
		w := st.GetWorker(name)
		if w == nil {
			continue
		}
		switch w.Status {
		case types.WorkerPolling:
			if pollingBest == nil || w.LastActivity < pollingBest.LastActivity {
				pollingBest = w
			}
		case types.WorkerIdle:
			if idleBest == nil || w.LastActivity < idleBest.LastActivity {
				idleBest = w
			}
		}
	}

	if pollingBest != nil {
		return pollingBest
	}
	return idleBest
}
