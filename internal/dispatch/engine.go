package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/coven/busd/internal/metrics"
	"github.com/coven/busd/internal/state"
	"github.com/coven/busd/pkg/types"
)

// BeadTracker is the subset of beads.Client the Dispatch Engine needs.
// Defined here, not in package beads, so the engine depends on the
// narrow interface it actually calls rather than the concrete client —
// tests substitute a fake that never shells out.
type BeadTracker interface {
	Validate(ctx context.Context, beadID string) (bool, string, error)
	SetInProgress(ctx context.Context, beadID string) error
	MarkBlocked(ctx context.Context, beadID, reason string) error
}

var workerNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Engine is the daemon's single serializing execution context: every
// tool handler below runs with mu held for its entire body, including
// any BT subprocess call — a deliberate simplification over unlocking
// around the BT call and relocking to commit or roll back. State itself
// carries no lock; this is the only place one is taken.
type Engine struct {
	mu  sync.Mutex
	st  *state.State
	bt  BeadTracker
	log *slog.Logger

	// pollTimeout is the default long-poll duration when a poll_task
	// call does not specify its own; afterFunc schedules the poll
	// timeout callback and is time.AfterFunc as built by New.
	pollTimeout time.Duration
	afterFunc   func(d time.Duration, f func()) *time.Timer

	// metrics is nil in tests that don't care about it; every call site
	// below goes through this nil-safe helper rather than dereferencing
	// it directly.
	metrics *metrics.Metrics
}

// SetMetrics attaches m so subsequent calls record to it. Safe to call
// once, before the Engine is shared across goroutines.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Engine) observeBTCall(op string, seconds float64) {
	if e.metrics != nil {
		e.metrics.ObserveBTCall(op, seconds)
	}
}

// New builds an Engine over st, dispatching bd calls through bt.
func New(st *state.State, bt BeadTracker, log *slog.Logger, pollTimeout time.Duration) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		st:          st,
		bt:          bt,
		log:         log,
		pollTimeout: pollTimeout,
		afterFunc:   time.AfterFunc,
	}
}

// RegisterWorker implements register_worker. Colliding names are
// disambiguated with a -N suffix rather than rejected.
func (e *Engine) RegisterWorker(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !workerNameRe.MatchString(name) {
		return RegisterResult{Success: false, Error: "invalid worker name"}
	}

	now := state.NowMillis()
	if !e.st.HasWorker(name) {
		e.st.CreateWorker(name, now)
		return RegisterResult{Success: true, Worker: name, Message: "Registered"}
	}

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !e.st.HasWorker(candidate) {
			e.st.CreateWorker(candidate, now)
			return RegisterResult{Success: true, Worker: candidate, Message: "Registered as " + candidate}
		}
	}
}

// PollTask implements poll_task. If a task is already pending for this
// worker it returns immediately; otherwise it suspends
// (without holding mu) until dispatch, cancellation, timeout, or ctx
// cancellation, whichever comes first.
func (e *Engine) PollTask(ctx context.Context, name string, timeoutMs int64) any {
	e.mu.Lock()

	w := e.st.GetWorker(name)
	if w == nil {
		e.mu.Unlock()
		return PollResult{Error: "unknown worker"}
	}

	if pt := e.st.PendingTaskFor(name); pt != nil {
		e.mu.Unlock()
		return PollResult{Task: &TaskRef{BeadID: pt.BeadID, AssignedAt: pt.AssignedAt}}
	}

	// A worker that polls again while already polling is rejected
	// rather than silently replacing its poller.
	if w.Status == types.WorkerPolling {
		e.mu.Unlock()
		return PollResult{Error: "worker already polling"}
	}

	timeout := e.pollTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	poller := &state.BlockedPoller{Resolve: make(chan state.PollResult, 1)}
	poller.TimeoutTimer = e.afterFunc(timeout, func() { e.resolveTimeout(name) })
	e.st.InstallBlockedPoller(name, poller, state.NowMillis())
	e.mu.Unlock()

	select {
	case res := <-poller.Resolve:
		switch res.Kind {
		case state.PollDispatched:
			return PollResult{Task: &TaskRef{BeadID: res.Task.BeadID, AssignedAt: res.Task.AssignedAt}}
		case state.PollCancelled:
			return PollResult{Cancelled: true}
		default:
			return PollResult{Timeout: true}
		}
	case <-ctx.Done():
		e.mu.Lock()
		if p, ok := e.st.TakeBlockedPoller(name); ok {
			p.TimeoutTimer.Stop()
			if cur := e.st.GetWorker(name); cur != nil && cur.Status == types.WorkerPolling {
				e.st.SetWorkerIdle(name, state.NowMillis())
			}
		}
		e.mu.Unlock()
		return PollResult{Error: "poll cancelled: " + ctx.Err().Error()}
	}
}

// resolveTimeout is the long-poll timer callback. It is a no-op if the
// poller was already resolved by a dispatch or reset between the timer
// firing and this callback acquiring mu.
func (e *Engine) resolveTimeout(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	poller, ok := e.st.TakeBlockedPoller(name)
	if !ok {
		return
	}
	if w := e.st.GetWorker(name); w != nil {
		e.st.SetWorkerIdle(name, state.NowMillis())
	}
	poller.Resolve <- state.PollResult{Kind: state.PollTimedOut}
}

// dispatchToWorker assigns beadID to w and, if w has a blocked poller,
// wakes it. Callers hold mu. Does not touch the active-bead set — that
// is the caller's job, exactly once, at submit/retry time.
func (e *Engine) dispatchToWorker(w *state.Worker, beadID string, now int64) {
	e.st.AssignPendingTask(w.Name, beadID, now)
	if poller, ok := e.st.TakeBlockedPoller(w.Name); ok {
		poller.TimeoutTimer.Stop()
		pt := e.st.PendingTaskFor(w.Name)
		poller.Resolve <- state.PollResult{Kind: state.PollDispatched, Task: &state.PendingTask{BeadID: pt.BeadID, AssignedAt: pt.AssignedAt}}
	}
}

// drainQueue hands overflow-queued beads to any worker selectWorker
// can find, repeating until the queue empties or no worker is free.
// Callers hold mu; this must run after any operation that frees a
// worker (worker_done, task_failed, reset_worker).
func (e *Engine) drainQueue() {
	for e.st.QueueLen() > 0 {
		w := selectWorker(e.st)
		if w == nil {
			return
		}
		beadID, ok := e.st.DequeueBead()
		if !ok {
			return
		}
		e.dispatchToWorker(w, beadID, state.NowMillis())
	}
}

// AckTask implements ack_task: confirms the worker's pending assignment
// matches beadID, tells BT the bead is in progress,
// and transitions the worker to executing. On BT failure the worker is
// rolled back to idle and the bead is freed for resubmission.
func (e *Engine) AckTask(ctx context.Context, name, beadID string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.st.GetWorker(name)
	if w == nil {
		return AckResult{Error: "unknown worker"}
	}
	pt := e.st.PendingTaskFor(name)
	if pt == nil {
		return AckResult{Error: fmt.Sprintf("no pending task for worker %s", name)}
	}
	if pt.BeadID != beadID {
		return AckResult{Error: fmt.Sprintf("task mismatch: expected %s, got %s", pt.BeadID, beadID)}
	}

	start := state.NowMillis()
	err := e.bt.SetInProgress(ctx, beadID)
	e.observeBTCall("set_in_progress", float64(state.NowMillis()-start)/1000)
	if err != nil {
		e.st.ClearPendingTask(name)
		e.st.SetWorkerIdle(name, state.NowMillis())
		e.st.DeactivateBead(beadID)
		e.log.Warn("ack_task: bd set-in-progress failed, rolled back", "worker", name, "bead", beadID, "err", err)
		return AckResult{Error: fmt.Sprintf("failed to update bead: %v", err)}
	}

	e.st.ClearPendingTask(name)
	e.st.SetWorkerExecuting(name, beadID, state.NowMillis())
	return AckResult{Success: true, Worker: name, BeadID: beadID}
}

// SubmitTask implements submit_task: validates beadID
// with BT, rejects duplicates already active, and either dispatches
// straight to a free worker or appends to the overflow queue.
func (e *Engine) SubmitTask(ctx context.Context, beadID string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.IsBeadActive(beadID) {
		return SubmitResult{BeadID: beadID, Error: "Task already active or queued"}
	}

	ok, reason, err := e.bt.Validate(ctx, beadID)
	if err != nil {
		return SubmitResult{BeadID: beadID, Error: fmt.Sprintf("failed to validate bead: %v", err)}
	}
	if !ok {
		return SubmitResult{BeadID: beadID, Error: reason}
	}

	e.st.ActivateBead(beadID)

	if w := selectWorker(e.st); w != nil {
		e.dispatchToWorker(w, beadID, state.NowMillis())
		return SubmitResult{Dispatched: true, Worker: w.Name, BeadID: beadID}
	}

	e.st.EnqueueBead(beadID)
	return SubmitResult{Dispatched: false, Queued: true, BeadID: beadID, Position: e.st.QueueLen()}
}

// WorkerDone implements worker_done: the worker
// finished beadID successfully. Frees the bead unconditionally and, if
// a worker is still recorded as holding it, frees the worker too, then
// drains the overflow queue. A bead with no current owner (the worker
// already reset, or the request is a duplicate retransmit) is not an
// error — the bead is still removed from active_beads and the call
// reports the same success shape with a warning.
func (e *Engine) WorkerDone(beadID string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.st.DeactivateBead(beadID)

	w := e.st.FindWorkerByCurrentTask(beadID)
	if w == nil {
		e.drainQueue()
		return DoneResult{Success: true, BeadID: beadID, Warning: "Worker not found"}
	}

	name := w.Name
	e.st.ClearPendingTask(name)
	e.st.SetWorkerIdle(name, state.NowMillis())
	e.drainQueue()
	return DoneResult{Success: true, BeadID: beadID, Worker: name}
}

// TaskFailed implements task_failed: marks the bead
// blocked via BT and then frees it — queued-but-undispatched beads are
// just as eligible as ones a worker is currently executing, and a queued
// bead is also taken out of the overflow queue.
// Only if a worker is found holding beadID is it transitioned back to
// idle; either way the queue is drained afterward. A BT failure is
// reported as a logical error and leaves state unchanged.
func (e *Engine) TaskFailed(ctx context.Context, beadID, reason string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := state.NowMillis()
	err := e.bt.MarkBlocked(ctx, beadID, reason)
	e.observeBTCall("mark_blocked", float64(state.NowMillis()-start)/1000)
	if err != nil {
		e.log.Warn("task_failed: bd mark-blocked failed", "bead", beadID, "err", err)
		return FailedResult{BeadID: beadID, Error: fmt.Sprintf("failed to mark bead blocked: %v", err)}
	}
	e.st.DeactivateBead(beadID)
	for i, queued := range e.st.TaskQueue {
		if queued == beadID {
			e.st.TaskQueue = append(e.st.TaskQueue[:i], e.st.TaskQueue[i+1:]...)
			break
		}
	}

	if w := e.st.FindWorkerByCurrentTask(beadID); w != nil {
		e.st.ClearPendingTask(w.Name)
		e.st.SetWorkerIdle(w.Name, state.NowMillis())
	}
	e.drainQueue()
	return FailedResult{Success: true, BeadID: beadID, Status: "blocked", Reason: reason}
}

// ResetWorker implements reset_worker: force-idles a
// worker regardless of its current state, resolving any blocked poller
// with PollCancelled rather than leaving it
// to time out, and freeing any bead it held for resubmission.
func (e *Engine) ResetWorker(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.st.GetWorker(name)
	if w == nil {
		return ResetResult{Error: "unknown worker"}
	}

	previous := w.CurrentTask
	if poller, ok := e.st.TakeBlockedPoller(name); ok {
		poller.TimeoutTimer.Stop()
		poller.Resolve <- state.PollResult{Kind: state.PollCancelled}
	}
	if previous != "" {
		e.st.DeactivateBead(previous)
	}
	e.st.ClearPendingTask(name)
	e.st.SetWorkerIdle(name, state.NowMillis())
	e.drainQueue()

	return ResetResult{Success: true, Worker: name, PreviousTask: previous}
}

// RetryTask implements retry_task: same validate-then-dispatch-or-queue
// path as submit_task, except an already-active bead is rejected with
// a message pointing at reset_worker rather than submit_task's generic
// one — retry_task is how a caller re-submits a bead whose worker may
// have died without it, so "already active" usually means the worker
// needs resetting first, not that the retry itself is redundant.
func (e *Engine) RetryTask(ctx context.Context, beadID string) any {
	e.mu.Lock()
	if e.st.IsBeadActive(beadID) {
		e.mu.Unlock()
		return SubmitResult{BeadID: beadID, Error: "Task still active — use reset_worker first if worker died"}
	}
	e.mu.Unlock()

	return e.SubmitTask(ctx, beadID)
}

// GetStatus implements get_status: a read-only
// snapshot of every worker, the overflow queue, and aggregate counts.
func (e *Engine) GetStatus() types.StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := state.NowMillis()
	names := e.st.WorkerNames()
	snap := types.StatusSnapshot{
		Workers: make([]types.WorkerStatusEntry, 0, len(names)),
		Queue:   e.st.QueueSnapshot(),
	}
	snap.QueuedTasks = len(snap.Queue)
	if e.metrics != nil {
		e.metrics.SetQueueDepth(snap.QueuedTasks)
	}

	var idleCount, pollingCount, pendingCount, executingCount int
	for _, name := range names {
		w := e.st.GetWorker(name)
		if w == nil {
			continue
		}
		entry := types.WorkerStatusEntry{
			Name:        w.Name,
			Status:      w.Status,
			CurrentTask: w.CurrentTask,
		}
		if w.Status == types.WorkerIdle || w.Status == types.WorkerPolling {
			idle := (now - w.LastActivity) / 1000
			entry.IdleSeconds = &idle
		}
		if pt := e.st.PendingTaskFor(name); pt != nil {
			entry.PendingTask = pt.BeadID
		}
		switch w.Status {
		case types.WorkerIdle:
			idleCount++
		case types.WorkerPolling:
			pollingCount++
			snap.PollingWorkers++
		case types.WorkerPending:
			pendingCount++
			snap.PendingWorkers++
		case types.WorkerExecuting:
			executingCount++
		}
		snap.Workers = append(snap.Workers, entry)
	}

	if e.metrics != nil {
		e.metrics.SetWorkerCounts(idleCount, pollingCount, pendingCount, executingCount)
	}
	return snap
}
