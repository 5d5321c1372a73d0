package command_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/assistant"
	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory command repository
// ---------------------------------------------------------------------------

type memRepo struct {
	mu       sync.Mutex
	commands map[uuid.UUID]*domain.Command
	statuses map[uuid.UUID]*domain.CommandStatus

	createErr     error
	transitionErr error
	lookupErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		commands: make(map[uuid.UUID]*domain.Command),
		statuses: make(map[uuid.UUID]*domain.CommandStatus),
	}
}

func (m *memRepo) CreateWithStatus(_ context.Context, c *domain.Command, s *domain.CommandStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cc, ss := *c, *s
	m.commands[c.ID] = &cc
	m.statuses[c.ID] = &ss
	return nil
}

func (m *memRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[id]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *memRepo) Lookup(_ context.Context, id uuid.UUID) (*domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	c, ok := m.commands[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *memRepo) LookupScope(_ context.Context, id uuid.UUID) (domain.TenantScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[id]
	if !ok {
		return domain.TenantScope{}, domain.ErrNotFound
	}
	return c.Scope(), nil
}

func (m *memRepo) GetStatus(_ context.Context, tenantID, id uuid.UUID) (*domain.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	if !ok || s.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	ss := *s
	return &ss, nil
}

func (m *memRepo) Transition(_ context.Context, tenantID, id uuid.UUID, from domain.CommandState, u domain.StatusUpdate) (*domain.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	s, ok := m.statuses[id]
	if !ok || s.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	if s.State != from {
		if s.State.IsTerminal() {
			return nil, domain.ErrTerminalState
		}
		return nil, domain.ErrStateConflict
	}
	s.State = u.State
	s.ResponseText = u.ResponseText
	s.SpeechRef = u.SpeechRef
	s.ErrorReason = u.ErrorReason
	s.UpdatedAt = time.Now()
	ss := *s
	return &ss, nil
}

func (m *memRepo) IncrementAttempts(_ context.Context, tenantID, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	if !ok || s.TenantID != tenantID {
		return 0, domain.ErrNotFound
	}
	s.AttemptCount++
	s.UpdatedAt = time.Now()
	return s.AttemptCount, nil
}

func (m *memRepo) ListByHouse(_ context.Context, tenantID, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CommandStatus
	for id, c := range m.commands {
		if c.TenantID == tenantID && c.HouseID == houseID {
			ss := *m.statuses[id]
			out = append(out, &ss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListStale(_ context.Context, state domain.CommandState, before time.Time, limit int) ([]*domain.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CommandStatus
	for _, s := range m.statuses {
		if s.State == state && s.UpdatedAt.Before(before) {
			ss := *s
			out = append(out, &ss)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) ClaimStalePending(_ context.Context, before time.Time, limit int) ([]*domain.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CommandStatus
	for _, s := range m.statuses {
		if len(out) == limit {
			break
		}
		if s.State == domain.CommandStatePending && s.UpdatedAt.Before(before) {
			s.UpdatedAt = time.Now()
			ss := *s
			out = append(out, &ss)
		}
	}
	return out, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func (m *memRepo) status(id uuid.UUID) domain.CommandStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.statuses[id]
}

// put stores a command directly, bypassing intake.
func (m *memRepo) put(c *domain.Command, state domain.CommandState, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[c.ID] = c
	m.statuses[c.ID] = &domain.CommandStatus{
		CommandID: c.ID,
		TenantID:  c.TenantID,
		UserID:    c.UserID,
		State:     state,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

// ---------------------------------------------------------------------------
// Queue, recorder, notifier
// ---------------------------------------------------------------------------

type fakeQueue struct {
	mu       sync.Mutex
	pending  []uuid.UUID
	acked    []uuid.UUID
	nacked   []uuid.UUID
	err      error
	recovers atomic.Int32
}

func (q *fakeQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.pending = append(q.pending, id)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, _ string, timeout time.Duration) (uuid.UUID, bool, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		return id, true, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(min(timeout, 10*time.Millisecond)):
		return uuid.Nil, false, nil
	case <-ctx.Done():
		return uuid.Nil, false, ctx.Err()
	}
}

func (q *fakeQueue) Ack(_ context.Context, _ string, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) Nack(_ context.Context, _ string, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, id)
	return nil
}

func (q *fakeQueue) Recover(context.Context, string) (int, error) {
	q.recovers.Add(1)
	return 0, nil
}

func (q *fakeQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.pending...)
}

func (q *fakeQueue) ackedIDs() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.acked...)
}

type recorder struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (r *recorder) Record(_ context.Context, e *domain.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t domain.SecurityEventType) []*domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SecurityEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type notifier struct {
	mu     sync.Mutex
	states []domain.CommandState
}

func (n *notifier) NotifyStatus(_ context.Context, s *domain.CommandStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, s.State)
	return nil
}

func (n *notifier) seen() []domain.CommandState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.CommandState(nil), n.states...)
}

// ---------------------------------------------------------------------------
// AI fakes
// ---------------------------------------------------------------------------

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req assistant.AnalyzeRequest) (*assistant.Response, error)
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req assistant.AnalyzeRequest) (*assistant.Response, error) {
	a.calls.Add(1)
	if a.fn != nil {
		return a.fn(ctx, req)
	}
	return &assistant.Response{Text: "Turning on the " + req.Prompt + "."}, nil
}

type fakeTranscriber struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(context.Context, assistant.TranscribeRequest) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

type fakeSynthesizer struct {
	calls atomic.Int32
	text  atomic.Value
	err   error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, _ string) (string, error) {
	f.calls.Add(1)
	f.text.Store(text)
	if f.err != nil {
		return "", f.err
	}
	return "speech://" + text, nil
}

// ---------------------------------------------------------------------------
// World
// ---------------------------------------------------------------------------

type houseMap map[uuid.UUID]*domain.House

func (h houseMap) Lookup(_ context.Context, id uuid.UUID) (*domain.House, error) {
	if house, ok := h[id]; ok {
		return house, nil
	}
	return nil, domain.ErrNotFound
}

type tenantMap map[uuid.UUID]*domain.Tenant

func (t tenantMap) Tenant(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	if tenant, ok := t[id]; ok {
		return tenant, nil
	}
	return nil, domain.ErrNotFound
}

// world is two tenants with one house each, sharing a repository, guard and
// recorder.
type world struct {
	repo    *memRepo
	queue   *fakeQueue
	rec     *recorder
	guard   *authz.Guard
	tenants tenantMap

	t1, t2 uuid.UUID
	h1, h2 *domain.House
}

func newWorld(t *testing.T) *world {
	t.Helper()

	w := &world{
		repo:  newMemRepo(),
		queue: &fakeQueue{},
		rec:   &recorder{},
		t1:    uuid.New(),
		t2:    uuid.New(),
	}
	w.h1 = &domain.House{ID: uuid.New(), TenantID: w.t1, OwnerID: uuid.New(), Name: "H1"}
	w.h2 = &domain.House{ID: uuid.New(), TenantID: w.t2, OwnerID: uuid.New(), Name: "H2"}
	w.tenants = tenantMap{
		w.t1: {ID: w.t1, Active: true, DefaultLanguage: "ko"},
		w.t2: {ID: w.t2, Active: true},
	}

	registry := authz.NewRegistry()
	registry.Register(authz.ResourceHouse, authz.HouseAccessor(houseMap{w.h1.ID: w.h1, w.h2.ID: w.h2}))
	registry.Register(authz.ResourceCommand, authz.CommandAccessor(w.repo))
	w.guard = authz.NewGuard(registry, w.rec, nil)

	return w
}

func (w *world) member(tenantID uuid.UUID) *domain.Principal {
	return domain.NewPrincipal(uuid.New(), tenantID, []string{authz.RoleMember}, nil, authz.RoleGrants)
}

func (w *world) viewer(tenantID uuid.UUID) *domain.Principal {
	return domain.NewPrincipal(uuid.New(), tenantID, []string{authz.RoleViewer}, nil, authz.RoleGrants)
}
