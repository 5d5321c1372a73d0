package v1_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject a resolved principal into context for DoCtx
// ---------------------------------------------------------------------------

func principalCtx(tenantID uuid.UUID, roles ...string) context.Context {
	p := domain.NewPrincipal(uuid.New(), tenantID, roles, nil, authz.RoleGrants)
	return middleware.WithPrincipal(context.Background(), p)
}

func memberCtx(tenantID uuid.UUID) context.Context {
	return principalCtx(tenantID, authz.RoleMember)
}

func adminCtx(tenantID uuid.UUID) context.Context {
	return principalCtx(tenantID, authz.RoleAdmin)
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	tenants domain.TenantRepository
	houses  domain.HouseRepository
}

func (m *mockDataStore) Tenants() domain.TenantRepository { return m.tenants }
func (m *mockDataStore) Houses() domain.HouseRepository   { return m.houses }

// ---------------------------------------------------------------------------
// Mock TenantRepository
// ---------------------------------------------------------------------------

type mockTenantRepo struct {
	createFunc    func(ctx context.Context, t *domain.Tenant) error
	getByIDFunc   func(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	getBySlugFunc func(ctx context.Context, slug string) (*domain.Tenant, error)
	updateFunc    func(ctx context.Context, t *domain.Tenant) error
}

func (m *mockTenantRepo) Create(ctx context.Context, t *domain.Tenant) error {
	return m.createFunc(ctx, t)
}

func (m *mockTenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTenantRepo) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return m.getBySlugFunc(ctx, slug)
}

func (m *mockTenantRepo) Update(ctx context.Context, t *domain.Tenant) error {
	return m.updateFunc(ctx, t)
}

// ---------------------------------------------------------------------------
// In-memory HouseRepository
// ---------------------------------------------------------------------------

// memHouses scopes reads by tenant the way the Postgres repository does.
type memHouses struct {
	mu        sync.Mutex
	houses    map[uuid.UUID]*domain.House
	createErr error
}

func newMemHouses(houses ...*domain.House) *memHouses {
	m := &memHouses{houses: make(map[uuid.UUID]*domain.House)}
	for _, h := range houses {
		m.houses[h.ID] = h
	}
	return m
}

func (m *memHouses) Create(_ context.Context, h *domain.House) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.houses[h.ID] = h
	return nil
}

func (m *memHouses) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.House, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.houses[id]
	if !ok || h.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

func (m *memHouses) Lookup(_ context.Context, id uuid.UUID) (*domain.House, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.houses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

func (m *memHouses) List(_ context.Context, tenantID uuid.UUID, _, _ int) ([]*domain.House, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.House
	for _, h := range m.houses {
		if h.TenantID == tenantID {
			out = append(out, h)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Guard
// ---------------------------------------------------------------------------

type eventSink struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (s *eventSink) Record(_ context.Context, e *domain.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		if r, ok := e.Details["reason"].(string); ok {
			out = append(out, r)
		}
	}
	return out
}

func newGuard(houses *memHouses) (*authz.Guard, *eventSink) {
	registry := authz.NewRegistry()
	registry.Register(authz.ResourceHouse, authz.HouseAccessor(houses))
	sink := &eventSink{}
	return authz.NewGuard(registry, sink, nil), sink
}

// ---------------------------------------------------------------------------
// Mock AuthService
// ---------------------------------------------------------------------------

type mockAuthService struct {
	registerFunc     func(ctx context.Context, tenantID uuid.UUID, email, password, name string) (*domain.User, error)
	loginFunc        func(ctx context.Context, tenantID uuid.UUID, email, password string) (string, string, error)
	refreshTokenFunc func(ctx context.Context, refreshToken string) (string, error)
}

func (m *mockAuthService) Register(ctx context.Context, tenantID uuid.UUID, email, password, name string) (*domain.User, error) {
	return m.registerFunc(ctx, tenantID, email, password, name)
}

func (m *mockAuthService) Login(ctx context.Context, tenantID uuid.UUID, email, password string) (accessToken, refreshToken string, err error) {
	return m.loginFunc(ctx, tenantID, email, password)
}

func (m *mockAuthService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	return m.refreshTokenFunc(ctx, refreshToken)
}

// ---------------------------------------------------------------------------
// Mock CommandService
// ---------------------------------------------------------------------------

type mockCommandService struct {
	submitFunc func(ctx context.Context, p *domain.Principal, req command.SubmitRequest) (*command.Accepted, error)
	pollFunc   func(ctx context.Context, p *domain.Principal, id uuid.UUID) (*domain.CommandStatus, error)
	cancelFunc func(ctx context.Context, p *domain.Principal, id uuid.UUID) (*command.CancelResult, error)
	listFunc   func(ctx context.Context, p *domain.Principal, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error)
}

func (m *mockCommandService) Submit(ctx context.Context, p *domain.Principal, req command.SubmitRequest) (*command.Accepted, error) {
	return m.submitFunc(ctx, p, req)
}

func (m *mockCommandService) Poll(ctx context.Context, p *domain.Principal, id uuid.UUID) (*domain.CommandStatus, error) {
	return m.pollFunc(ctx, p, id)
}

func (m *mockCommandService) Cancel(ctx context.Context, p *domain.Principal, id uuid.UUID) (*command.CancelResult, error) {
	return m.cancelFunc(ctx, p, id)
}

func (m *mockCommandService) List(ctx context.Context, p *domain.Principal, houseID uuid.UUID, limit, offset int) ([]*domain.CommandStatus, error) {
	return m.listFunc(ctx, p, houseID, limit, offset)
}

// ---------------------------------------------------------------------------
// Mock AuditQuerier
// ---------------------------------------------------------------------------

type mockAuditQuerier struct {
	queryFunc func(ctx context.Context, p *domain.Principal, q domain.AuditQuery) ([]*domain.SecurityEvent, error)
}

func (m *mockAuditQuerier) Query(ctx context.Context, p *domain.Principal, q domain.AuditQuery) ([]*domain.SecurityEvent, error) {
	return m.queryFunc(ctx, p, q)
}
