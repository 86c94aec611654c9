// Package orchestrate schedules a TaskPlan's subtasks across a bounded pool
// of worker agents. Unlike a stage-barrier scheduler, ready subtasks are
// dispatched the moment their dependencies complete rather than waiting for
// every subtask in the previous "layer" to finish, so independent chains
// run concurrently at their own pace.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agentkit/runtime/pkg/models"
)

// ErrUnknownSubTask is returned by Retry/Skip/Reset when the subtask id is
// not part of the plan.
var ErrUnknownSubTask = errors.New("orchestrate: unknown subtask id")

// Worker executes one subtask and returns its result text or an error.
// Implementations typically drive an agent.Runtime against a task-specific
// prompt built from the subtask description.
type Worker func(ctx context.Context, sub models.SubTask) (result string, err error)

// Scheduler runs a TaskPlan's subtasks against a bounded pool of workers,
// persisting plan state after every subtask transition so a crashed run can
// be resumed from disk.
type Scheduler struct {
	plan     *models.TaskPlan
	worker   Worker
	planFile string
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Scheduler for plan, dispatching ready subtasks to worker.
// planFile, if non-empty, receives the plan's persisted state after every
// transition (see Persist).
func New(plan *models.TaskPlan, worker Worker, planFile string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{plan: plan, worker: worker, planFile: planFile, logger: logger}
}

// Run drives the plan to completion: it keeps a ready queue of subtasks
// whose dependencies have all succeeded, dispatches up to MaxAgents of them
// concurrently, and folds newly-ready subtasks back into the queue as their
// dependencies finish. It returns once nothing is running and nothing is
// ready (every subtask is terminal, or the rest wait on a failed
// dependency and stay pending), or when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	maxAgents := s.plan.MaxAgents
	if maxAgents <= 0 {
		maxAgents = 1
	}

	sem := make(chan struct{}, maxAgents)
	results := make(chan string, maxAgents)
	inFlight := 0

	for {
		ready := s.readyQueue()

		if len(ready) == 0 && inFlight == 0 {
			return nil // plan is done, or the remaining subtasks can never become ready
		}

		dispatched := 0
		for _, id := range ready {
			select {
			case sem <- struct{}{}:
			default:
				goto waitForResult // pool saturated, drain at least one before dispatching more
			}
			s.markRunning(id)
			inFlight++
			dispatched++
			go s.runOne(ctx, id, sem, results)
		}

	waitForResult:
		if dispatched == 0 && inFlight == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-results:
			inFlight--
			s.logger.Debug("subtask finished", "id", id)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, id string, sem chan struct{}, results chan<- string) {
	defer func() { <-sem; results <- id }()

	sub := s.subtaskCopy(id)
	result, err := s.worker(ctx, sub)
	if err != nil {
		s.markFailed(id, err)
		return
	}
	s.markSucceeded(id, result)
}

// readyQueue returns pending subtask ids whose dependencies have all
// succeeded or been skipped, ordered fewest-dependents-first then by plan
// order (FIFO) for ties.
func (s *Scheduler) readyQueue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	dependents := make(map[string]int)
	for _, st := range s.plan.SubTasks {
		for _, dep := range st.DependsOn {
			dependents[dep]++
		}
	}

	satisfied := make(map[string]bool)
	for _, st := range s.plan.SubTasks {
		if st.Status == models.SubTaskSucceeded || st.Status == models.SubTaskSkipped {
			satisfied[st.ID] = true // a skipped dependency unblocks its dependents, same as a succeeded one
		}
	}

	type candidate struct {
		id    string
		order int
	}
	var candidates []candidate

	for i, st := range s.plan.SubTasks {
		if st.Status != models.SubTaskPending {
			continue
		}
		ready := true
		for _, dep := range st.DependsOn {
			if !satisfied[dep] {
				ready = false
				break
			}
		}
		if ready {
			candidates = append(candidates, candidate{id: st.ID, order: i})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := dependents[candidates[i].id], dependents[candidates[j].id]
		if di != dj {
			return di < dj // fewest dependents first
		}
		return candidates[i].order < candidates[j].order
	})

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

func (s *Scheduler) subtaskCopy(id string) models.SubTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.plan.SubTaskByID(id)
}

func (s *Scheduler) markRunning(id string) {
	s.mu.Lock()
	st := s.plan.SubTaskByID(id)
	st.Status = models.SubTaskRunning
	now := time.Now()
	st.StartedAt = &now
	s.mu.Unlock()
	s.persist()
}

func (s *Scheduler) markSucceeded(id, result string) {
	s.mu.Lock()
	st := s.plan.SubTaskByID(id)
	st.Status = models.SubTaskSucceeded
	st.Result = result
	now := time.Now()
	st.FinishedAt = &now
	s.mu.Unlock()
	s.persist()
}

func (s *Scheduler) markFailed(id string, err error) {
	s.mu.Lock()
	st := s.plan.SubTaskByID(id)
	st.Status = models.SubTaskFailed
	st.Error = err.Error()
	now := time.Now()
	st.FinishedAt = &now
	s.mu.Unlock()
	s.persist()
}

// Reset clears a subtask back to pending, for a --reset re-run.
func (s *Scheduler) Reset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.plan.SubTaskByID(id)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubTask, id)
	}
	st.Status = models.SubTaskPending
	st.Error = ""
	st.Result = ""
	st.StartedAt = nil
	st.FinishedAt = nil
	return nil
}

// Retry is an alias for Reset used by the --retry CLI flag: it only makes
// sense on a subtask that previously failed.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	st := s.plan.SubTaskByID(id)
	s.mu.Unlock()
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubTask, id)
	}
	if st.Status != models.SubTaskFailed {
		return fmt.Errorf("orchestrate: subtask %s is not failed (status=%s)", id, st.Status)
	}
	return s.Reset(id)
}

// Skip marks a subtask as permanently skipped so dependents treat it as
// satisfied without ever running it.
func (s *Scheduler) Skip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.plan.SubTaskByID(id)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubTask, id)
	}
	st.Status = models.SubTaskSkipped
	return nil
}

// Plan returns the current plan state.
func (s *Scheduler) Plan() *models.TaskPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.plan
	return &cp
}

// Persist writes the plan file atomically, for callers that mutate a
// subtask (Reset/Retry/Skip) without calling Run.
func (s *Scheduler) Persist() {
	s.persist()
}

// persist writes the plan file atomically (write-temp-then-rename), the
// same pattern the teacher's file-backed stores use for crash safety.
func (s *Scheduler) persist() {
	if s.planFile == "" {
		return
	}
	s.mu.Lock()
	s.plan.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.plan, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("marshal plan", "error", err)
		return
	}

	tmp := s.planFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Error("write plan file", "error", err)
		return
	}
	if err := os.Rename(tmp, s.planFile); err != nil {
		s.logger.Error("rename plan file", "error", err)
	}
}

// Load reads a persisted plan file from disk, for `--resume` runs.
func Load(path string) (*models.TaskPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var plan models.TaskPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan file: %w", err)
	}
	return &plan, nil
}
