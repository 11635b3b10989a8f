package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/broker"
	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

var errDeadlock = &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func testMetrics() *metrics.Metrics { return metrics.New(prometheus.NewRegistry()) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memReservations enforces "one active row per seat" under a mutex, the
// same guarantee the unique index gives in MySQL.
type memReservations struct {
	mu     sync.Mutex
	nextID uint64
	rows   []*model.Reservation

	insertFailures int // transient errors to return before inserting
	insertCalls    int
}

func newMemReservations() *memReservations { return &memReservations{} }

func (m *memReservations) activeLocked(scheduleID uint64, seatNo string) *model.Reservation {
	for _, r := range m.rows {
		if r.Active && r.ScheduleID == scheduleID && r.SeatNo == seatNo {
			return r
		}
	}
	return nil
}

func cloneRes(r *model.Reservation) *model.Reservation {
	cp := *r
	if r.ExpiresAt != nil {
		e := *r.ExpiresAt
		cp.ExpiresAt = &e
	}
	return &cp
}

func (m *memReservations) InsertHold(_ context.Context, userID, scheduleID uint64, seatNo string, now, expiresAt time.Time) (repository.HoldInsert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertFailures > 0 {
		m.insertFailures--
		return repository.HoldInsert{}, errDeadlock
	}
	if cur := m.activeLocked(scheduleID, seatNo); cur != nil {
		return repository.HoldInsert{Current: cloneRes(cur)}, nil
	}
	m.nextID++
	exp := expiresAt
	r := &model.Reservation{
		ID: m.nextID, UserID: userID, ScheduleID: scheduleID, SeatNo: seatNo,
		Status: model.StatusHeld, Active: true, ExpiresAt: &exp, CreatedAt: now, UpdatedAt: now,
	}
	m.rows = append(m.rows, r)
	return repository.HoldInsert{Inserted: true, Reservation: cloneRes(r)}, nil
}

func (m *memReservations) FindActive(_ context.Context, scheduleID uint64, seatNo string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.activeLocked(scheduleID, seatNo); cur != nil {
		return cloneRes(cur), nil
	}
	return nil, repository.ErrNotFound
}

func (m *memReservations) ExpireHeld(_ context.Context, id uint64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.HeldExpired(now) {
			r.Status, r.Active, r.UpdatedAt = model.StatusExpired, false, now
			return true, nil
		}
	}
	return false, nil
}

func (m *memReservations) ConfirmHeld(_ context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.activeLocked(scheduleID, seatNo)
	if r == nil || r.UserID != userID || !r.HeldValid(now) {
		return false, nil
	}
	r.Status, r.ExpiresAt, r.UpdatedAt = model.StatusConfirmed, nil, now
	return true, nil
}

func (m *memReservations) CancelHeld(_ context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.activeLocked(scheduleID, seatNo)
	if r == nil || r.UserID != userID || r.Status != model.StatusHeld {
		return false, nil
	}
	r.Status, r.Active, r.UpdatedAt = model.StatusCancelled, false, now
	return true, nil
}

func (m *memReservations) SweepExpired(_ context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.Reservation
	for _, r := range m.rows {
		if r.HeldExpired(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, r := range due {
		r.Status, r.Active, r.UpdatedAt = model.StatusExpired, false, now
	}
	return int64(len(due)), nil
}

func (m *memReservations) HasValidHold(_ context.Context, userID, scheduleID uint64, seatNo string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.activeLocked(scheduleID, seatNo)
	return r != nil && r.UserID == userID && r.HeldValid(now), nil
}

func (m *memReservations) ListByUser(_ context.Context, userID uint64, limit int) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].UserID == userID {
			out = append(out, *cloneRes(m.rows[i]))
		}
	}
	return out, nil
}

func (m *memReservations) ActiveSeats(_ context.Context, scheduleID uint64, now time.Time) (map[string]model.ReservationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]model.ReservationStatus{}
	for _, r := range m.rows {
		if r.Active && r.ScheduleID == scheduleID && (r.Status == model.StatusConfirmed || r.HeldValid(now)) {
			out[r.SeatNo] = r.Status
		}
	}
	return out, nil
}

// activeCount counts live rows for one seat.
func (m *memReservations) activeCount(scheduleID uint64, seatNo string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.Active && r.ScheduleID == scheduleID && r.SeatNo == seatNo {
			n++
		}
	}
	return n
}

type memGuards struct {
	mu   sync.Mutex
	rows map[string]uint64
}

func newMemGuards() *memGuards { return &memGuards{rows: map[string]uint64{}} }

func (g *memGuards) Acquire(_ context.Context, scheduleID uint64, seatNo string, reservationID uint64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := strconv.FormatUint(scheduleID, 10) + ":" + seatNo
	if _, ok := g.rows[k]; ok {
		return false, nil
	}
	g.rows[k] = reservationID
	return true, nil
}

func (g *memGuards) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows)
}

// memCatalog knows seats A1..A9 and B1..B9 of every schedule, priced 5000.
type memCatalog struct{}

func (memCatalog) known(seatNo string) bool {
	if len(seatNo) != 2 || (seatNo[0] != 'A' && seatNo[0] != 'B') {
		return false
	}
	return seatNo[1] >= '1' && seatNo[1] <= '9'
}

func (c memCatalog) SeatExists(_ context.Context, _ uint64, seatNo string) (bool, error) {
	return c.known(seatNo), nil
}

func (c memCatalog) FindSeatNoByID(_ context.Context, _ uint64, seatID uint64) (string, error) {
	if seatID < 1 || seatID > 18 {
		return "", repository.ErrNotFound
	}
	row := "A"
	if seatID > 9 {
		row, seatID = "B", seatID-9
	}
	return row + strconv.FormatUint(seatID, 10), nil
}

func (c memCatalog) GetSeat(ctx context.Context, scheduleID uint64, seatNo string) (*model.Seat, error) {
	if !c.known(seatNo) {
		return nil, repository.ErrNotFound
	}
	return &model.Seat{ID: 1, ScheduleID: scheduleID, SeatNo: seatNo, PriceCents: 5000}, nil
}

func (c memCatalog) ListBySchedule(_ context.Context, scheduleID uint64) ([]model.Seat, error) {
	var out []model.Seat
	for i, no := range []string{"A1", "A2", "A3"} {
		out = append(out, model.Seat{ID: uint64(i + 1), ScheduleID: scheduleID, SeatNo: no, PriceCents: 5000})
	}
	return out, nil
}

// memTx runs fn with a unit of work and drains it on success. Writes to the
// in-memory stores are not rolled back.
type memTx struct {
	mu      sync.Mutex
	calls   int
	commits int
}

func (t *memTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	ctx, uow := database.WithUnitOfWork(ctx)
	if err := fn(ctx); err != nil {
		uow.Discard()
		return err
	}
	t.mu.Lock()
	t.commits++
	t.mu.Unlock()
	uow.Drain()
	return nil
}

type memOutbox struct {
	mu     sync.Mutex
	events map[string]*model.OutboxEvent
	order  []string
}

func newMemOutbox() *memOutbox { return &memOutbox{events: map[string]*model.OutboxEvent{}} }

func (o *memOutbox) Insert(_ context.Context, e *model.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.events[e.EventID]; dup {
		return errors.New("duplicate event id")
	}
	cp := *e
	o.events[e.EventID] = &cp
	o.order = append(o.order, e.EventID)
	return nil
}

func (o *memOutbox) LockDueBatch(_ context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*model.OutboxEvent
	for _, id := range o.order {
		e := o.events[id]
		if e.Status == model.OutboxPending && !e.NextRetryAt.After(now) && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (o *memOutbox) Save(_ context.Context, e *model.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *e
	o.events[e.EventID] = &cp
	return nil
}

func (o *memOutbox) ListFailed(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*model.OutboxEvent
	for _, id := range o.order {
		if e := o.events[id]; e.Status == model.OutboxFailed && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (o *memOutbox) Requeue(_ context.Context, eventID string, now time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.events[eventID]
	if !ok || e.Status != model.OutboxFailed {
		return false, nil
	}
	e.Status, e.RetryCount, e.NextRetryAt, e.UpdatedAt = model.OutboxPending, 0, now, now
	return true, nil
}

func (o *memOutbox) get(id string) model.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.events[id]
}

func (o *memOutbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

type memDedup struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	released []string
}

func newMemDedup() *memDedup { return &memDedup{seen: map[string]time.Time{}} }

func (d *memDedup) Claim(_ context.Context, eventID string, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = now
	return true, nil
}

func (d *memDedup) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	d.released = append(d.released, eventID)
	return nil
}

type memPayments struct {
	mu     sync.Mutex
	orders map[string]*model.PaymentOrder
}

func newMemPayments() *memPayments { return &memPayments{orders: map[string]*model.PaymentOrder{}} }

func (p *memPayments) Create(_ context.Context, o *model.PaymentOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o.ID = uint64(len(p.orders) + 1)
	cp := *o
	p.orders[o.OrderNo] = &cp
	return nil
}

func (p *memPayments) FindByOrderNo(_ context.Context, orderNo string) (*model.PaymentOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (p *memPayments) UpdateStatus(_ context.Context, orderNo string, status model.PaymentStatus, reason string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderNo]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status, o.UpdatedAt = status, now
	if reason != "" {
		o.FailReason = &reason
	}
	return nil
}

// memGate admits whoever holds a token listed in passes.
type memGate struct {
	mu       sync.Mutex
	passes   map[string]string // "sid:uid" -> token
	queued   map[string]bool
	released []string
	issues   int // TryIssuePass calls
}

func newMemGate() *memGate {
	return &memGate{passes: map[string]string{}, queued: map[string]bool{}}
}

func gateKey(scheduleID, userID uint64) string {
	return strconv.FormatUint(scheduleID, 10) + ":" + strconv.FormatUint(userID, 10)
}

func (g *memGate) grant(scheduleID, userID uint64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := "tok-" + gateKey(scheduleID, userID)
	g.passes[gateKey(scheduleID, userID)] = tok
	return tok
}

func (g *memGate) Enter(_ context.Context, scheduleID, userID uint64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued[gateKey(scheduleID, userID)] = true
	return 1, nil
}

func (g *memGate) Position(_ context.Context, scheduleID, userID uint64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queued[gateKey(scheduleID, userID)] {
		return 1, nil
	}
	return -1, nil
}

func (g *memGate) GetPass(_ context.Context, scheduleID, userID uint64) (*model.QueuePass, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok, ok := g.passes[gateKey(scheduleID, userID)]; ok {
		return &model.QueuePass{Token: tok}, nil
	}
	return nil, nil
}

func (g *memGate) TryIssuePass(ctx context.Context, scheduleID, userID uint64, _ int, _ time.Duration) (*model.QueuePass, string, error) {
	g.mu.Lock()
	g.issues++
	g.mu.Unlock()
	p, _ := g.GetPass(ctx, scheduleID, userID)
	if p != nil {
		return p, "HAS_PASS", nil
	}
	g.mu.Lock()
	g.queued[gateKey(scheduleID, userID)] = true
	g.mu.Unlock()
	return nil, "WAIT", nil
}

func (g *memGate) ValidatePass(_ context.Context, scheduleID, userID uint64, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok, ok := g.passes[gateKey(scheduleID, userID)]
	return ok && token != "" && tok == token, nil
}

func (g *memGate) ReleasePass(_ context.Context, scheduleID, userID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.passes, gateKey(scheduleID, userID))
	g.released = append(g.released, gateKey(scheduleID, userID))
	return nil
}

type memLocks struct {
	mu    sync.Mutex
	owner map[string]uint64
}

func newMemLocks() *memLocks { return &memLocks{owner: map[string]uint64{}} }

func seatKey(scheduleID uint64, seatNo string) string {
	return strconv.FormatUint(scheduleID, 10) + ":" + seatNo
}

func (l *memLocks) Lock(_ context.Context, scheduleID uint64, seatNo string, ownerID uint64, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := seatKey(scheduleID, seatNo)
	if _, held := l.owner[k]; held {
		return false, nil
	}
	l.owner[k] = ownerID
	return true, nil
}

func (l *memLocks) Release(_ context.Context, scheduleID uint64, seatNo string, ownerID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := seatKey(scheduleID, seatNo)
	if l.owner[k] == ownerID {
		delete(l.owner, k)
	}
	return nil
}

func (l *memLocks) Owner(_ context.Context, scheduleID uint64, seatNo string) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.owner[seatKey(scheduleID, seatNo)]
	return id, ok, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.SeatEvent
}

func (n *recordingNotifier) Publish(_ uint64, ev model.SeatEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []model.SeatEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.SeatEventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

// flakyPublisher fails the next failures publishes; a negative count fails
// every publish.
type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	sent     []broker.Message
}

func (p *flakyPublisher) Publish(_ context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures != 0 {
		if p.failures > 0 {
			p.failures--
		}
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

// fixture wires the services over in-memory stores.
type fixture struct {
	clock    *fakeClock
	store    *memReservations
	guards   *memGuards
	gate     *memGate
	locks    *memLocks
	notifier *recordingNotifier
	tx       *memTx
	res      *ReservationService
	tickets  *TicketService
}

func newFixture(t *testing.T, queueEnabled bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(),
		store:    newMemReservations(),
		guards:   newMemGuards(),
		gate:     newMemGate(),
		locks:    newMemLocks(),
		notifier: &recordingNotifier{},
		tx:       &memTx{},
	}
	f.res = NewReservationService(f.store, f.guards, memCatalog{}, 5*time.Minute, testLogger())
	f.res.now = f.clock.Now
	f.tickets = NewTicketService(f.tx, f.res, memCatalog{}, f.gate, f.locks, f.notifier, testMetrics(), TicketConfig{
		QueueEnabled: queueEnabled,
		SeatLockTTL:  5 * time.Minute,
		MaxAttempts:  5,
	}, testLogger())
	f.tickets.now = f.clock.Now
	return f
}
