// Package memrepo implements the repository interfaces entirely
// in-memory, for daemon/executor tests that need a Durable Store
// stand-in without a Postgres instance — the teacher has no database
// test harness beyond such fakes, so this follows its own grain rather
// than reaching for testcontainers.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/value"
)

type Store struct {
	mu sync.Mutex

	agents   map[string]*domain.Agent
	tasks    map[string]*domain.Task
	dueWork  map[int64]*domain.DueWork
	taskRuns map[string]*domain.TaskRun
	hbs      map[string]*domain.WorkerHeartbeat
	audit    []domain.AuditLog
	ingested map[[2]string]struct{}

	nextDueWorkID int64
}

func New() *Store {
	return &Store{
		agents:   make(map[string]*domain.Agent),
		tasks:    make(map[string]*domain.Task),
		dueWork:  make(map[int64]*domain.DueWork),
		taskRuns: make(map[string]*domain.TaskRun),
		hbs:      make(map[string]*domain.WorkerHeartbeat),
		ingested: make(map[[2]string]struct{}),
	}
}

// Agents returns an repository.AgentRepository backed by s.
func (s *Store) Agents() repository.AgentRepository { return (*agentRepo)(s) }

// Tasks returns a repository.TaskRepository backed by s.
func (s *Store) Tasks() repository.TaskRepository { return (*taskRepo)(s) }

// DueWork returns a repository.DueWorkRepository backed by s.
func (s *Store) DueWork() repository.DueWorkRepository { return (*dueWorkRepo)(s) }

// TaskRuns returns a repository.TaskRunRepository backed by s.
func (s *Store) TaskRuns() repository.TaskRunRepository { return (*taskRunRepo)(s) }

// Heartbeats returns a repository.HeartbeatRepository backed by s.
func (s *Store) Heartbeats() repository.HeartbeatRepository { return (*heartbeatRepo)(s) }

// Audit returns a repository.AuditRepository backed by s.
func (s *Store) Audit() repository.AuditRepository { return (*auditRepo)(s) }

// Events returns a repository.EventIdempotencyRepository backed by s.
func (s *Store) Events() repository.EventIdempotencyRepository { return (*eventRepo)(s) }

type agentRepo Store

func (r *agentRepo) Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.Name == a.Name {
			return nil, domain.ErrAgentNameConflict
		}
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	s.agents[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *agentRepo) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	out := *a
	return &out, nil
}

func (r *agentRepo) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Name == name {
			out := *a
			return &out, nil
		}
	}
	return nil, domain.ErrAgentNotFound
}

func (r *agentRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return domain.ErrAgentNotFound
	}
	for _, t := range s.tasks {
		if t.CreatedBy == id {
			return domain.ErrAgentHasReferences
		}
	}
	delete(s.agents, id)
	return nil
}

type taskRepo Store

func (r *taskRepo) Create(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[t.CreatedBy]; !ok {
		return nil, domain.ErrAgentNotFound
	}
	cp := *t
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	if cp.Status == "" {
		cp.Status = domain.TaskActive
	}
	s.tasks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *taskRepo) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	out := *t
	return &out, nil
}

func (r *taskRepo) Update(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	cp.UpdatedAt = time.Now().UTC()
	s.tasks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *taskRepo) SetStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (r *taskRepo) ListActive(ctx context.Context, kinds []domain.ScheduleKind) ([]*domain.Task, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.ScheduleKind]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskActive {
			continue
		}
		if _, ok := want[t.ScheduleKind]; !ok {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *taskRepo) ListActiveEventTasks(ctx context.Context) ([]*domain.Task, error) {
	return r.ListActive(ctx, []domain.ScheduleKind{domain.ScheduleEvent})
}

type dueWorkRepo Store

func (r *dueWorkRepo) Enqueue(ctx context.Context, taskID string, runAt time.Time, eventPayload value.Value) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dw := range s.dueWork {
		if dw.TaskID == taskID && dw.RunAt.Equal(runAt) {
			return nil
		}
	}
	s.nextDueWorkID++
	s.dueWork[s.nextDueWorkID] = &domain.DueWork{
		ID: s.nextDueWorkID, TaskID: taskID, RunAt: runAt, Attempt: 1,
		EventPayload: eventPayload, CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *dueWorkRepo) CancelUnlocked(ctx context.Context, taskID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, dw := range s.dueWork {
		if dw.TaskID == taskID && dw.LockedUntil == nil {
			delete(s.dueWork, id)
		}
	}
	return nil
}

func (r *dueWorkRepo) Claim(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.DueWork, *domain.Task, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var best *domain.DueWork
	var bestTask *domain.Task
	for _, dw := range s.dueWork {
		if !dw.Claimable(now) {
			continue
		}
		task, ok := s.tasks[dw.TaskID]
		if !ok {
			continue
		}
		if best == nil ||
			dw.RunAt.Before(best.RunAt) ||
			(dw.RunAt.Equal(best.RunAt) && task.Priority > bestTask.Priority) {
			best, bestTask = dw, task
		}
	}
	if best == nil {
		return nil, nil, false, nil
	}

	if bestTask.ConcurrencyKey != "" {
		for _, dw := range s.dueWork {
			if dw.ID == best.ID {
				continue
			}
			t := s.tasks[dw.TaskID]
			if t != nil && t.ConcurrencyKey == bestTask.ConcurrencyKey && dw.LockedUntil != nil && dw.LockedUntil.After(now) {
				return nil, nil, false, nil
			}
		}
	}

	lockedUntil := now.Add(leaseFor)
	if best.LockedBy != nil {
		best.Attempt++
	}
	best.LockedUntil = &lockedUntil
	best.LockedBy = &workerID

	dwOut := *best
	taskOut := *bestTask
	return &dwOut, &taskOut, true, nil
}

func (r *dueWorkRepo) RenewLease(ctx context.Context, id int64, workerID string, leaseFor time.Duration) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	dw, ok := s.dueWork[id]
	if !ok || dw.LockedBy == nil || *dw.LockedBy != workerID {
		return domain.ErrDueWorkNotOwned
	}
	newUntil := time.Now().UTC().Add(leaseFor)
	dw.LockedUntil = &newUntil
	return nil
}

func (r *dueWorkRepo) Delete(ctx context.Context, id int64) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dueWork, id)
	return nil
}

func (r *dueWorkRepo) Reschedule(ctx context.Context, id int64, runAt time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	dw, ok := s.dueWork[id]
	if !ok {
		return domain.ErrDueWorkNotFound
	}
	dw.RunAt = runAt
	dw.LockedUntil = nil
	dw.LockedBy = nil
	return nil
}

func (r *dueWorkRepo) ReclaimExpired(ctx context.Context, grace, heartbeatDeadAfter time.Duration, limit int) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	leaseCutoff := now.Add(-grace)
	aliveSince := now.Add(-heartbeatDeadAfter)
	n := 0
	for _, dw := range s.dueWork {
		if n >= limit {
			break
		}
		if dw.LockedUntil == nil || !dw.LockedUntil.Before(leaseCutoff) {
			continue
		}
		if dw.LockedBy != nil {
			if hb, ok := s.hbs[*dw.LockedBy]; ok && hb.LastSeen.After(aliveSince) {
				continue // lease holder is still heartbeating, leave it alone
			}
		}
		dw.LockedUntil = nil
		n++
	}
	return n, nil
}

func (r *dueWorkRepo) Stats(ctx context.Context) (repository.QueueStats, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var stats repository.QueueStats
	var oldest *time.Time
	for _, dw := range s.dueWork {
		switch {
		case dw.LockedUntil != nil && dw.LockedUntil.After(now):
			stats.Leased++
		case dw.RunAt.After(now):
			stats.Pending++
		default:
			stats.Ready++
			if oldest == nil || dw.RunAt.Before(*oldest) {
				oldest = &dw.RunAt
			}
		}
	}
	if oldest != nil {
		stats.OldestAgeSecs = now.Sub(*oldest).Seconds()
	}
	for _, run := range s.taskRuns {
		if run.FinishedAt != nil && run.FinishedAt.After(now.Add(-time.Hour)) {
			stats.ProcessedLastH++
		}
	}
	return stats, nil
}

func (r *dueWorkRepo) LatestRunAt(ctx context.Context, taskID string) (time.Time, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for _, dw := range s.dueWork {
		if dw.TaskID != taskID {
			continue
		}
		if !found || dw.RunAt.After(latest) {
			latest = dw.RunAt
			found = true
		}
	}
	return latest, found, nil
}

type taskRunRepo Store

func (r *taskRunRepo) Start(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.ID = uuid.NewString()
	cp.StartedAt = time.Now().UTC()
	s.taskRuns[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *taskRunRepo) Complete(ctx context.Context, id string, success bool, output []byte, errMsg *string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.taskRuns[id]
	if !ok {
		return domain.ErrTaskRunNotFound
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Success = &success
	run.Error = errMsg
	if len(output) > 0 {
		_ = run.Output.UnmarshalJSON(output)
	}
	return nil
}

func (r *taskRunRepo) ExistsForTask(ctx context.Context, taskID string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.taskRuns {
		if run.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}

type heartbeatRepo Store

func (r *heartbeatRepo) Upsert(ctx context.Context, hb *domain.WorkerHeartbeat) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hb
	s.hbs[cp.WorkerID] = &cp
	return nil
}

func (r *heartbeatRepo) IsAlive(ctx context.Context, workerID string, deadAfter time.Duration) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.hbs[workerID]
	if !ok {
		return false, nil
	}
	return hb.LastSeen.After(time.Now().UTC().Add(-deadAfter)), nil
}

func (r *heartbeatRepo) PruneDead(ctx context.Context, deadAfter time.Duration) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-deadAfter)
	n := 0
	for id, hb := range s.hbs {
		if hb.LastSeen.Before(cutoff) {
			delete(s.hbs, id)
			n++
		}
	}
	return n, nil
}

type auditRepo Store

func (r *auditRepo) Append(ctx context.Context, entry domain.AuditLog) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

type eventRepo Store

func (r *eventRepo) MarkIngested(ctx context.Context, taskID, eventID string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{taskID, eventID}
	if _, seen := s.ingested[key]; seen {
		return false, nil
	}
	s.ingested[key] = struct{}{}
	return true, nil
}
