package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stock-service/internal/events"
	"stock-service/internal/migrate"
	"stock-service/internal/models"
	"stock-service/internal/pkg/testutil"
	"stock-service/internal/repository"
	"stock-service/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type level struct {
	productID        uuid.UUID
	stock, threshold int32
}

type recordingNotifier struct {
	mu     sync.Mutex
	levels []level
	err    error
}

func (n *recordingNotifier) NotifyStockLevel(_ context.Context, productID uuid.UUID, newStock, threshold int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels = append(n.levels, level{productID, newStock, threshold})
	return n.err
}

func (n *recordingNotifier) calls() []level {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]level(nil), n.levels...)
}

type recordingSink struct {
	mu  sync.Mutex
	got []events.Event
}

func (s *recordingSink) Emit(_ context.Context, e events.Event) {
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

type env struct {
	db       *gorm.DB
	repo     *repository.Repository
	svc      service.StockService
	clock    *clock
	notifier *recordingNotifier
	sink     *recordingSink
}

func setup(t *testing.T, opts service.Options) *env {
	t.Helper()
	db := testutil.SetupTestPostgres(t)
	if err := migrate.MigrateStockDB(context.Background(), db, zap.NewNop(), migrate.DefaultMigrateOptions()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := &env{
		db:       db,
		repo:     repository.New(db),
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}
	e.svc = service.NewStockService(e.repo, opts, zap.NewNop(),
		service.WithClock(e.clock.Now),
		service.WithNotifier(e.notifier),
		service.WithEventSink(e.sink),
	)
	return e
}

func defaultOpts() service.Options {
	o := service.DefaultOptions()
	o.ReservationTTL = 10 * time.Minute
	o.CriticalThreshold = 3
	return o
}

func (e *env) seed(t *testing.T, name string, onHand int32) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	p := &models.Product{SKU: "SKU-" + uuid.NewString()[:8], Name: name, IsActive: true}
	if err := e.repo.Products.Create(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := e.repo.Inventories.SetOnHand(ctx, p.ID, onHand); err != nil {
		t.Fatalf("set on hand: %v", err)
	}
	return p.ID
}

func (e *env) available(t *testing.T, productID uuid.UUID) int32 {
	t.Helper()
	v, err := e.svc.GetAvailability(context.Background(), productID)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	return v
}

func (e *env) onHand(t *testing.T, productID uuid.UUID) int32 {
	t.Helper()
	inv, err := e.repo.Inventories.Get(context.Background(), productID)
	if err != nil || inv == nil {
		t.Fatalf("get inventory: %v", err)
	}
	return inv.OnHand
}

func (e *env) ledger(t *testing.T, productID uuid.UUID) []models.StockMovement {
	t.Helper()
	list, err := e.repo.Ledger.ListByProduct(context.Background(), productID, 1000)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return list
}

func TestReserveCommit_HappyPath(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Keyboard", 10)
	b := e.seed(t, "Mouse", 4)
	key := uuid.NewString()

	res, err := e.svc.ReserveStock(ctx, key, []service.Item{
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 1},
		{ProductID: a, Quantity: 1},
	})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Equal(t, 2, res.Lines)
	assert.Equal(t, int32(4), res.Units)

	assert.Equal(t, int32(7), e.available(t, a))
	assert.Equal(t, int32(3), e.available(t, b))
	assert.Equal(t, int32(10), e.onHand(t, a), "reserve must not touch on-hand")

	res, err = e.svc.CommitReservation(ctx, key)
	require.NoError(t, err)
	require.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Equal(t, int32(4), res.Units)

	assert.Equal(t, int32(7), e.onHand(t, a))
	assert.Equal(t, int32(3), e.onHand(t, b))
	assert.Equal(t, int32(7), e.available(t, a))

	rows, err := e.repo.Reservations.ListByClientOrder(ctx, key)
	require.NoError(t, err)
	orderID := uuid.MustParse(key)
	for _, r := range rows {
		assert.True(t, r.IsReleased)
		assert.Equal(t, models.ReleaseReasonCommitted, r.ReleaseReason)
		require.NotNil(t, r.OrderID)
		assert.Equal(t, orderID, *r.OrderID)
	}

	entries, err := e.repo.Ledger.ListByReference(ctx, key)
	require.NoError(t, err)
	var kinds []models.ChangeType
	for _, m := range entries {
		if m.ProductID == a {
			kinds = append(kinds, m.ChangeType)
		}
	}
	assert.ElementsMatch(t, []models.ChangeType{models.ChangeReserve, models.ChangeCommit}, kinds)

	// Mouse упал до 3 = порог
	calls := e.notifier.calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		if c.productID == b {
			assert.Equal(t, level{b, 3, 3}, c)
		}
	}
}

func TestReserve_EmptyAfterNormalization(t *testing.T) {
	e := setup(t, defaultOpts())
	a := e.seed(t, "Cable", 5)

	res, err := e.svc.ReserveStock(context.Background(), "k-empty", []service.Item{{ProductID: a, Quantity: 0}})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeEmpty, res.Outcome)
	assert.Equal(t, int32(5), e.available(t, a))
}

func TestReserve_InsufficientStock(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Monitor", 10)
	b := e.seed(t, "Stand", 2)

	res, err := e.svc.ReserveStock(ctx, "k-short", []service.Item{
		{ProductID: a, Quantity: 1},
		{ProductID: b, Quantity: 3},
	})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeInsufficientStock, res.Outcome)
	require.NotNil(t, res.Shortage)
	assert.Equal(t, service.Shortage{ProductID: b, Requested: 3, Available: 2}, *res.Shortage)

	// ни одного резерва: всё или ничего
	assert.Equal(t, int32(10), e.available(t, a))
	rows, err := e.repo.Reservations.ListByClientOrder(ctx, "k-short")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, e.ledger(t, a))
}

func TestReserve_UnknownProduct(t *testing.T) {
	e := setup(t, defaultOpts())
	ghost := uuid.New()

	res, err := e.svc.ReserveStock(context.Background(), "k-ghost", []service.Item{{ProductID: ghost, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeInsufficientStock, res.Outcome)
	assert.Equal(t, int32(0), res.Shortage.Available)
}

func TestReserve_DuplicateLinesOverflowRejected(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Sticker", 10)
	items := []service.Item{
		{ProductID: a, Quantity: math.MaxInt32},
		{ProductID: a, Quantity: 2},
	}

	ok, _, err := e.svc.ValidateStockForOrder(ctx, items)
	require.ErrorIs(t, err, service.ErrInvalidQuantity)
	assert.False(t, ok)

	res, err := e.svc.ReserveStock(ctx, "k-overflow", items)
	require.ErrorIs(t, err, service.ErrInvalidQuantity)
	assert.False(t, res.OK())

	rows, err := e.repo.Reservations.ListByClientOrder(ctx, "k-overflow")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(10), e.available(t, a))
	assert.Empty(t, e.ledger(t, a))

	e.sink.mu.Lock()
	last := e.sink.got[len(e.sink.got)-1]
	e.sink.mu.Unlock()
	assert.Equal(t, events.TypeReserve, last.Type)
	assert.Equal(t, string(service.OutcomeInvalid), last.Outcome)
}

func TestIncreaseStock_OverflowRejected(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Pallet", 10)

	_, err := e.svc.IncreaseStock(ctx, a, math.MaxInt32-5, service.Adjustment{Reason: "restock"})
	require.ErrorIs(t, err, service.ErrInvalidQuantity)
	assert.Equal(t, int32(10), e.onHand(t, a))
	assert.Empty(t, e.ledger(t, a))

	res, err := e.svc.IncreaseStock(ctx, a, math.MaxInt32-10, service.Adjustment{Reason: "restock"})
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), res.StockAfter)
}

func TestReserve_ReplacesPreviousSet(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Lamp", 10)
	b := e.seed(t, "Bulb", 10)

	_, err := e.svc.ReserveStock(ctx, "k-rep", []service.Item{{ProductID: a, Quantity: 3}, {ProductID: b, Quantity: 2}})
	require.NoError(t, err)

	res, err := e.svc.ReserveStock(ctx, "k-rep", []service.Item{{ProductID: a, Quantity: 5}})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeOK, res.Outcome)

	assert.Equal(t, int32(5), e.available(t, a))
	assert.Equal(t, int32(10), e.available(t, b))

	active, err := e.repo.Reservations.ListActiveByClientOrder(ctx, "k-rep", e.clock.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int32(5), active[0].Quantity)

	all, err := e.repo.Reservations.ListByClientOrder(ctx, "k-rep")
	require.NoError(t, err)
	replaced := 0
	for _, r := range all {
		if r.ReleaseReason == models.ReleaseReasonReplaced {
			replaced++
		}
	}
	assert.Equal(t, 2, replaced)
}

func TestReserve_FailedReplaceKeepsPreviousSet(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Chair", 10)

	_, err := e.svc.ReserveStock(ctx, "k-keep", []service.Item{{ProductID: a, Quantity: 3}})
	require.NoError(t, err)

	res, err := e.svc.ReserveStock(ctx, "k-keep", []service.Item{{ProductID: a, Quantity: 20}})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeInsufficientStock, res.Outcome)
	// при замене свой прежний резерв считается освобождённым
	assert.Equal(t, int32(10), res.Shortage.Available)

	assert.Equal(t, int32(7), e.available(t, a))
}

func TestCommit_Idempotent(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Desk", 10)

	_, err := e.svc.ReserveStock(ctx, "k-idem", []service.Item{{ProductID: a, Quantity: 4}})
	require.NoError(t, err)
	_, err = e.svc.CommitReservation(ctx, "k-idem")
	require.NoError(t, err)
	before := len(e.ledger(t, a))

	res, err := e.svc.CommitReservation(ctx, "k-idem")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Zero(t, res.Lines)

	assert.Equal(t, int32(6), e.onHand(t, a))
	assert.Len(t, e.ledger(t, a), before)
}

func TestCommit_NoReservationIsNoop(t *testing.T) {
	e := setup(t, defaultOpts())

	res, err := e.svc.CommitReservation(context.Background(), "never-reserved")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Zero(t, res.Units)
	assert.Empty(t, e.notifier.calls())
}

func TestRelease_IdempotentAndRestoresAvailability(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Pen", 10)

	_, err := e.svc.ReserveStock(ctx, "k-rel", []service.Item{{ProductID: a, Quantity: 6}})
	require.NoError(t, err)
	assert.Equal(t, int32(4), e.available(t, a))

	res, err := e.svc.ReleaseReservation(ctx, "k-rel")
	require.NoError(t, err)
	assert.Equal(t, int32(6), res.Units)
	assert.Equal(t, int32(10), e.available(t, a))
	n := len(e.ledger(t, a))

	res, err = e.svc.ReleaseReservation(ctx, "k-rel")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Zero(t, res.Units)
	assert.Len(t, e.ledger(t, a), n)
	assert.Equal(t, int32(10), e.onHand(t, a))

	// после release коммитить нечего
	_, err = e.svc.CommitReservation(ctx, "k-rel")
	require.NoError(t, err)
	assert.Equal(t, int32(10), e.onHand(t, a))
}

func TestExpiry_IsLazy(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Battery", 5)

	_, err := e.svc.ReserveStock(ctx, "k-exp", []service.Item{{ProductID: a, Quantity: 5}})
	require.NoError(t, err)
	assert.Equal(t, int32(0), e.available(t, a))

	e.clock.Advance(11 * time.Minute)
	assert.Equal(t, int32(5), e.available(t, a))

	// строка физически на месте и не отпущена
	rows, err := e.repo.Reservations.ListByClientOrder(ctx, "k-exp")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsReleased)

	// истёкший резерв не коммитится
	_, err = e.svc.CommitReservation(ctx, "k-exp")
	require.NoError(t, err)
	assert.Equal(t, int32(5), e.onHand(t, a))

	res, err := e.svc.ReserveStock(ctx, "k-other", []service.Item{{ProductID: a, Quantity: 5}})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOK, res.Outcome)
}

func TestCommit_InvariantViolation(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Phone", 10)

	_, err := e.svc.ReserveStock(ctx, "k-inv", []service.Item{{ProductID: a, Quantity: 5}})
	require.NoError(t, err)

	// ручное списание проверяет только физический остаток
	res, err := e.svc.DecreaseStock(ctx, a, 8, service.Adjustment{Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Equal(t, int32(2), res.StockAfter)

	res, err = e.svc.CommitReservation(ctx, "k-inv")
	require.ErrorIs(t, err, service.ErrInvariantViolated)
	assert.Equal(t, service.OutcomeInvariantViolated, res.Outcome)

	assert.Equal(t, int32(2), e.onHand(t, a))
	active, err := e.repo.Reservations.ListActiveByClientOrder(ctx, "k-inv", e.clock.Now())
	require.NoError(t, err)
	assert.Len(t, active, 1, "failed commit must leave reservations active")

	e.sink.mu.Lock()
	last := e.sink.got[len(e.sink.got)-1]
	e.sink.mu.Unlock()
	assert.Equal(t, events.TypeCommit, last.Type)
	assert.Equal(t, string(service.OutcomeInvariantViolated), last.Outcome)
	assert.Equal(t, a, last.ProductID)
}

func TestValidateStockForOrder(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Tablet", 3)

	ok, msg, err := e.svc.ValidateStockForOrder(ctx, []service.Item{{ProductID: a, Quantity: 3}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, msg)

	_, err = e.svc.ReserveStock(ctx, "k-val", []service.Item{{ProductID: a, Quantity: 2}})
	require.NoError(t, err)

	ok, msg, err = e.svc.ValidateStockForOrder(ctx, []service.Item{{ProductID: a, Quantity: 2}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "Tablet")
	assert.Contains(t, msg, "available 1")

	// advisory: ничего не резервирует
	assert.Equal(t, int32(1), e.available(t, a))
}

func TestAdjust(t *testing.T) {
	e := setup(t, defaultOpts())
	actor := uuid.New()
	ctx := service.WithUserID(context.Background(), actor)
	a := e.seed(t, "Bag", 2)

	res, err := e.svc.IncreaseStock(ctx, a, 8, service.Adjustment{Reason: "restock", Note: "PO-17"})
	require.NoError(t, err)
	assert.Equal(t, int32(10), res.StockAfter)
	assert.Empty(t, e.notifier.calls(), "increase does not notify")

	res, err = e.svc.DecreaseStock(ctx, a, 11, service.Adjustment{Reason: "audit"})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeInsufficientStock, res.Outcome)
	assert.Equal(t, int32(10), e.onHand(t, a))

	_, err = e.svc.IncreaseStock(ctx, a, 0, service.Adjustment{})
	require.ErrorIs(t, err, service.ErrInvalidQuantity)
	_, err = e.svc.DecreaseStock(ctx, a, -2, service.Adjustment{})
	require.ErrorIs(t, err, service.ErrInvalidQuantity)
	_, err = e.svc.IncreaseStock(ctx, uuid.New(), 1, service.Adjustment{})
	require.ErrorIs(t, err, service.ErrInventoryNotFound)

	entries := e.ledger(t, a)
	require.Len(t, entries, 1)
	m := entries[0]
	assert.Equal(t, models.ChangeAdjust, m.ChangeType)
	assert.Equal(t, int32(8), m.Quantity)
	assert.Equal(t, "restock", m.Reason)
	assert.Equal(t, "PO-17", m.Reference)
	require.NotNil(t, m.ActorID)
	assert.Equal(t, actor, *m.ActorID)
}

func TestNotifierFailureDoesNotBreakCommit(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	e.notifier.err = errors.New("broker down")
	a := e.seed(t, "Case", 2)

	_, err := e.svc.ReserveStock(ctx, "k-nf", []service.Item{{ProductID: a, Quantity: 2}})
	require.NoError(t, err)
	res, err := e.svc.CommitReservation(ctx, "k-nf")
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOK, res.Outcome)
	assert.Equal(t, int32(0), e.onHand(t, a))
	assert.Len(t, e.notifier.calls(), 1)
}

func TestIn_JoinsCallerTransaction(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Router", 5)

	err := e.repo.WithTx(ctx, func(tx *repository.Repository) error {
		svc := e.svc.In(tx)

		res, err := svc.ReserveStock(ctx, "k-join", []service.Item{{ProductID: a, Quantity: 2}})
		if err != nil || !res.OK() {
			return fmt.Errorf("reserve: %v %v", res.Outcome, err)
		}
		// отказ внутри не ломает внешнюю транзакцию
		res, err = svc.ReserveStock(ctx, "k-join-2", []service.Item{{ProductID: a, Quantity: 9}})
		if err != nil || res.Outcome != service.OutcomeInsufficientStock {
			return fmt.Errorf("second reserve: %v %v", res.Outcome, err)
		}
		if _, err := svc.CommitReservation(ctx, "k-join"); err != nil {
			return err
		}
		// уведомление ещё не отправлено: внешняя транзакция не зафиксирована
		if n := len(e.notifier.calls()); n != 0 {
			return fmt.Errorf("notified before commit: %d", n)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), e.onHand(t, a))
	assert.Len(t, e.notifier.calls(), 1)
}

func TestIn_OuterRollbackDiscardsEverything(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Switch", 5)
	boom := errors.New("checkout failed")

	err := e.repo.WithTx(ctx, func(tx *repository.Repository) error {
		if _, err := e.svc.In(tx).ReserveStock(ctx, "k-rb", []service.Item{{ProductID: a, Quantity: 2}}); err != nil {
			return err
		}
		if _, err := e.svc.In(tx).CommitReservation(ctx, "k-rb"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int32(5), e.onHand(t, a))
	assert.Equal(t, int32(5), e.available(t, a))
	assert.Empty(t, e.ledger(t, a))
	assert.Empty(t, e.notifier.calls())
}

func TestConcurrentReserve_NoOversell(t *testing.T) {
	opts := defaultOpts()
	opts.MaxAttempts = 20
	e := setup(t, opts)
	ctx := context.Background()
	const stock, buyers = 10, 25
	a := e.seed(t, "Console", stock)

	var ok, short, conflicts atomic.Int32
	var g errgroup.Group
	for i := range buyers {
		g.Go(func() error {
			res, err := e.svc.ReserveStock(ctx, fmt.Sprintf("buyer-%d", i), []service.Item{{ProductID: a, Quantity: 1}})
			switch {
			case repository.IsRetryable(err):
				conflicts.Add(1)
				return nil
			case err != nil:
				return err
			case res.OK():
				ok.Add(1)
			case res.Outcome == service.OutcomeInsufficientStock:
				short.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, ok.Load(), int32(stock))
	assert.Equal(t, int32(buyers), ok.Load()+short.Load()+conflicts.Load())

	reserved, err := e.repo.Reservations.SumActive(ctx, a, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, ok.Load(), reserved)
	assert.GreaterOrEqual(t, e.available(t, a), int32(0))
}

func TestConcurrentCommitAndDecrease_Conservation(t *testing.T) {
	opts := defaultOpts()
	opts.MaxAttempts = 20
	e := setup(t, opts)
	ctx := context.Background()
	a := e.seed(t, "Headset", 50)

	keys := make([]string, 10)
	for i := range keys {
		keys[i] = uuid.NewString()
		res, err := e.svc.ReserveStock(ctx, keys[i], []service.Item{{ProductID: a, Quantity: 2}})
		require.NoError(t, err)
		require.True(t, res.OK())
	}

	var g errgroup.Group
	for _, k := range keys {
		g.Go(func() error {
			_, err := e.svc.CommitReservation(ctx, k)
			if repository.IsRetryable(err) {
				return nil
			}
			return err
		})
	}
	for range 5 {
		g.Go(func() error {
			_, err := e.svc.DecreaseStock(ctx, a, 1, service.Adjustment{Reason: "shrinkage"})
			if repository.IsRetryable(err) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	// сумма изменений on-hand по журналу сходится с остатком
	var delta int32
	for _, m := range e.ledger(t, a) {
		if m.ChangeType == models.ChangeCommit || m.ChangeType == models.ChangeAdjust {
			delta += m.Quantity
		}
	}
	assert.Equal(t, int32(50)+delta, e.onHand(t, a))
	assert.GreaterOrEqual(t, e.onHand(t, a), int32(0))
}

func TestEventsEmittedOncePerCall(t *testing.T) {
	e := setup(t, defaultOpts())
	ctx := context.Background()
	a := e.seed(t, "Webcam", 3)

	_, _, _ = e.svc.ValidateStockForOrder(ctx, []service.Item{{ProductID: a, Quantity: 1}})
	_, _ = e.svc.ReserveStock(ctx, "k-ev", []service.Item{{ProductID: a, Quantity: 1}})
	_, _ = e.svc.ReleaseReservation(ctx, "k-ev")
	_, _ = e.svc.ReserveStock(ctx, "", []service.Item{{ProductID: a, Quantity: 1}})

	e.sink.mu.Lock()
	defer e.sink.mu.Unlock()
	var types []string
	for _, ev := range e.sink.got {
		types = append(types, string(ev.Type)+":"+ev.Outcome)
	}
	assert.Equal(t, "validate:ok,reserve:ok,release:ok,reserve:invalid", strings.Join(types, ","))
}
