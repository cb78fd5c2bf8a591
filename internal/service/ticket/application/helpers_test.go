package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"eventix/internal/pkg/lock"
	"eventix/internal/service/ticket/domain"
	"eventix/internal/service/ticket/domain/port"
)

// fakeClock 是测试用的可推进时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeInventoryRepo 进程内台账。failSave 非 nil 时 Save 返回该错误。
type fakeInventoryRepo struct {
	mu       sync.Mutex
	rows     map[string]domain.Inventory
	failSave error
}

func newFakeInventoryRepo() *fakeInventoryRepo {
	return &fakeInventoryRepo{rows: make(map[string]domain.Inventory)}
}

func (r *fakeInventoryRepo) FindByEventID(_ context.Context, eventID string) (*domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[eventID]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	return &row, nil
}

func (r *fakeInventoryRepo) Save(_ context.Context, inv *domain.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.rows[inv.EventID] = *inv
	return nil
}

func (r *fakeInventoryRepo) reserved(eventID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[eventID].Reserved
}

// fakeReservationRepo 进程内预订存储。failNextSave 让下一次 Save 失败一次。
type fakeReservationRepo struct {
	mu           sync.Mutex
	rows         map[string]domain.Reservation
	failNextSave error
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{rows: make(map[string]domain.Reservation)}
}

func (r *fakeReservationRepo) Save(_ context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNextSave != nil {
		err := r.failNextSave
		r.failNextSave = nil
		return err
	}
	stored := *reservation
	if stored.Status.IsTerminal() {
		stored.IdempotencyKey = ""
	}
	r.rows[stored.ID] = stored
	return nil
}

func (r *fakeReservationRepo) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &row, nil
}

func (r *fakeReservationRepo) FindByIdempotencyKey(_ context.Context, key string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.IdempotencyKey == key {
			out := row
			return &out, nil
		}
	}
	return nil, domain.ErrReservationNotFound
}

func (r *fakeReservationRepo) FindByUserID(_ context.Context, userID string) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.UserID == userID {
			copied := row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeReservationRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, row := range r.rows {
		if row.Status == domain.StatusPending && now.After(row.HoldExpiresAt) {
			copied := row
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeReservationRepo) statusOf(id string) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Status
}

// fakeTicketRepo 进程内票据存储。
type fakeTicketRepo struct {
	mu   sync.Mutex
	rows map[string]domain.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{rows: make(map[string]domain.Ticket)}
}

func (r *fakeTicketRepo) Save(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[t.ReservationID]; ok {
		return nil
	}
	r.rows[t.ReservationID] = *t
	return nil
}

func (r *fakeTicketRepo) FindByReservationID(_ context.Context, reservationID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &row, nil
}

func (r *fakeTicketRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// stubCatalog 返回固定的活动元数据；unavailable 模拟目录故障（fail-open 零容量）。
type stubCatalog struct {
	category    string
	capacity    int
	unavailable bool
}

func (s *stubCatalog) GetEventByID(_ context.Context, _ string) port.EventInfo {
	if s.unavailable {
		return port.EventInfo{}
	}
	return port.EventInfo{
		Category:    s.category,
		TicketTypes: []port.TicketType{{Quantity: s.capacity}},
	}
}

// fakeRegistry 进程内幂等键注册表，与 Redis 实现同语义。
type fakeRegistry struct {
	mu     sync.Mutex
	claims map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{claims: make(map[string]string)}
}

func (r *fakeRegistry) Claim(_ context.Context, key string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.claims[key]; ok {
		return false, bound, nil
	}
	r.claims[key] = ""
	return true, "", nil
}

func (r *fakeRegistry) Bind(_ context.Context, key, reservationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[key] = reservationID
	return nil
}

func (r *fakeRegistry) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, key)
	return nil
}

var errSaveBoom = errors.New("storage unavailable")

// testEnv 一次性组装全部测试依赖。
type testEnv struct {
	svc          *TicketService
	inventories  *fakeInventoryRepo
	reservations *fakeReservationRepo
	tickets      *fakeTicketRepo
	registry     *fakeRegistry
	catalog      *stubCatalog
	clk          *fakeClock
}

func newTestEnv(opts ...func(*testEnv)) *testEnv {
	env := &testEnv{
		inventories:  newFakeInventoryRepo(),
		reservations: newFakeReservationRepo(),
		tickets:      newFakeTicketRepo(),
		registry:     newFakeRegistry(),
		catalog:      &stubCatalog{category: "standard", capacity: 100},
		clk:          newFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
	}
	for _, opt := range opts {
		opt(env)
	}
	env.svc = NewTicketService(
		env.inventories, env.reservations, env.tickets,
		env.catalog, env.registry, lock.NewKeyMutex(),
		NewLimitPolicy(10, map[string]int{"vip": 4}),
		env.clk, 15*time.Minute, otel.Tracer("test"),
	)
	return env
}
