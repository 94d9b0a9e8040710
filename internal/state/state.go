// Package state holds the daemon's authoritative in-memory aggregate:
// workers, pending task assignments, blocked long-pollers, the active-bead
// set, and the overflow FIFO queue. It is deliberately policy-free — it
// knows how to keep I1-I6 (see spec) true across a single mutation, but
// never picks a worker, never times a poll out, and never talks to the
// bead tracker. Callers (internal/dispatch) are responsible for treating
// a sequence of State calls as one atomic step, by holding the Engine's
// own serializing lock around them.
package state

import (
	"time"

	"github.com/coven/busd/pkg/types"
)

// Worker is a registered worker's mutable record.
type Worker struct {
	Name          string
	Status        types.WorkerStatus
	RegisteredAt  int64
	LastActivity  int64
	CurrentTask   string
	TaskStartedAt int64
}

// PendingTask is a bead assigned to a worker but not yet acknowledged.
type PendingTask struct {
	BeadID     string
	AssignedAt int64
}

// BlockedPoller is a suspended poll_task call. Resolve is a one-shot
// channel: the dispatch engine sends exactly one PollResult on it,
// either from a dispatch resolution, a reset cancellation, or the
// poller's own timeout callback. TimeoutTimer is the scheduled timer
// that fires the timeout path; it must be stopped on every other path
// that removes the poller, so no timer is ever leaked.
type BlockedPoller struct {
	Resolve      chan PollResult
	TimeoutTimer *time.Timer
}

// PollResultKind distinguishes how a blocked poll_task was resolved.
type PollResultKind int

const (
	PollDispatched PollResultKind = iota
	PollTimedOut
	PollCancelled
)

// PollResult is sent on a BlockedPoller's Resolve channel exactly once.
type PollResult struct {
	Kind PollResultKind
	Task *PendingTask
}

// State is the daemon's aggregate. Zero value is not usable; use New.
type State struct {
	Workers        map[string]*Worker
	PendingTasks   map[string]*PendingTask
	BlockedPollers map[string]*BlockedPoller
	ActiveBeads    map[string]struct{}
	TaskQueue      []string

	// registrationOrder records worker names in the order they were
	// first registered, since Go's map iteration order is randomized and
	// LRU tie-breaking needs a stable, deterministic order.
	registrationOrder []string
}

// New returns an empty State.
func New() *State {
	return &State{
		Workers:        make(map[string]*Worker),
		PendingTasks:   make(map[string]*PendingTask),
		BlockedPollers: make(map[string]*BlockedPoller),
		ActiveBeads:    make(map[string]struct{}),
		TaskQueue:      make([]string, 0),
	}
}

// NowMillis is the daemon's clock: milliseconds since the Unix epoch.
// A package-level var (not a hardcoded time.Now call) so tests can pin it.
var NowMillis = func() int64 { return time.Now().UnixMilli() }

// HasWorker reports whether name is already registered.
func (s *State) HasWorker(name string) bool {
	_, ok := s.Workers[name]
	return ok
}

// GetWorker returns the worker record, or nil if unknown. The returned
// pointer aliases the stored record — callers under the Engine's
// serializing lock may mutate it directly.
func (s *State) GetWorker(name string) *Worker {
	return s.Workers[name]
}

// CreateWorker registers a brand new idle worker under name.
func (s *State) CreateWorker(name string, now int64) *Worker {
	w := &Worker{
		Name:         name,
		Status:       types.WorkerIdle,
		RegisteredAt: now,
		LastActivity: now,
	}
	s.Workers[name] = w
	s.registrationOrder = append(s.registrationOrder, name)
	return w
}

// FindWorkerByCurrentTask returns the worker currently executing or
// holding beadID as a pending task's owner, or nil. Invariant I4/P2
// guarantee at most one such worker exists.
func (s *State) FindWorkerByCurrentTask(beadID string) *Worker {
	for _, w := range s.Workers {
		if w.CurrentTask == beadID {
			return w
		}
	}
	return nil
}

// PendingTaskFor returns the PendingTask installed for worker name, if any.
func (s *State) PendingTaskFor(name string) *PendingTask {
	return s.PendingTasks[name]
}

// AssignPendingTask installs a PendingTask for worker name and transitions
// it to pending. It does not touch ActiveBeads — callers add a bead to the
// active set exactly once, at submit/retry time, not on every reassignment
// out of the queue.
func (s *State) AssignPendingTask(name, beadID string, now int64) {
	w := s.Workers[name]
	w.Status = types.WorkerPending
	w.CurrentTask = beadID
	w.LastActivity = now
	s.PendingTasks[name] = &PendingTask{BeadID: beadID, AssignedAt: now}
}

// ClearPendingTask removes the PendingTask for worker name, if any.
func (s *State) ClearPendingTask(name string) {
	delete(s.PendingTasks, name)
}

// InstallBlockedPoller transitions worker name to polling and records its
// suspended poll.
func (s *State) InstallBlockedPoller(name string, poller *BlockedPoller, now int64) {
	w := s.Workers[name]
	w.Status = types.WorkerPolling
	w.LastActivity = now
	s.BlockedPollers[name] = poller
}

// TakeBlockedPoller removes and returns the BlockedPoller for worker name,
// if any. The caller is responsible for stopping its timer (unless it is
// the timer callback itself removing its own, already-fired timer) and for
// transitioning the worker's status.
func (s *State) TakeBlockedPoller(name string) (*BlockedPoller, bool) {
	p, ok := s.BlockedPollers[name]
	if ok {
		delete(s.BlockedPollers, name)
	}
	return p, ok
}

// SetWorkerIdle clears a worker's task assignment and returns it to idle.
func (s *State) SetWorkerIdle(name string, now int64) {
	w := s.Workers[name]
	w.Status = types.WorkerIdle
	w.CurrentTask = ""
	w.TaskStartedAt = 0
	w.LastActivity = now
}

// SetWorkerExecuting transitions a worker from pending to executing.
func (s *State) SetWorkerExecuting(name, beadID string, now int64) {
	w := s.Workers[name]
	w.Status = types.WorkerExecuting
	w.CurrentTask = beadID
	w.TaskStartedAt = now
	w.LastActivity = now
}

// IsBeadActive reports whether beadID is queued or assigned.
func (s *State) IsBeadActive(beadID string) bool {
	_, ok := s.ActiveBeads[beadID]
	return ok
}

// ActivateBead adds beadID to the active set.
func (s *State) ActivateBead(beadID string) {
	s.ActiveBeads[beadID] = struct{}{}
}

// DeactivateBead removes beadID from the active set.
func (s *State) DeactivateBead(beadID string) {
	delete(s.ActiveBeads, beadID)
}

// EnqueueBead appends beadID to the overflow queue.
func (s *State) EnqueueBead(beadID string) {
	s.TaskQueue = append(s.TaskQueue, beadID)
}

// DequeueBead pops and returns the head of the overflow queue.
func (s *State) DequeueBead() (string, bool) {
	if len(s.TaskQueue) == 0 {
		return "", false
	}
	beadID := s.TaskQueue[0]
	s.TaskQueue = s.TaskQueue[1:]
	return beadID, true
}

// QueueLen returns the current overflow queue length.
func (s *State) QueueLen() int {
	return len(s.TaskQueue)
}

// QueueSnapshot returns a copy of the overflow queue, in order.
func (s *State) QueueSnapshot() []string {
	out := make([]string, len(s.TaskQueue))
	copy(out, s.TaskQueue)
	return out
}

// WorkerNames returns every registered worker's name in registration
// order, the deterministic tie-break for LRU worker selection.
func (s *State) WorkerNames() []string {
	names := make([]string, 0, len(s.registrationOrder))
	for _, name := range s.registrationOrder {
		if _, ok := s.Workers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
