package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stock-service/internal/events"
	"stock-service/internal/models"
	"stock-service/internal/notifier"
	"stock-service/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "stock-service/internal/service"

type stockService struct {
	repo     *repository.Repository
	notifier notifier.ThresholdNotifier
	orders   OrderLookup
	events   events.Sink
	log      *zap.Logger
	tracer   trace.Tracer
	opts     Options
	now      func() time.Time
}

type Option func(*stockService)

func WithNotifier(n notifier.ThresholdNotifier) Option {
	return func(s *stockService) { s.notifier = n }
}

func WithOrderLookup(l OrderLookup) Option {
	return func(s *stockService) { s.orders = l }
}

func WithEventSink(sink events.Sink) Option {
	return func(s *stockService) { s.events = sink }
}

func WithClock(now func() time.Time) Option {
	return func(s *stockService) { s.now = now }
}

func NewStockService(repo *repository.Repository, opts Options, log *zap.Logger, optFns ...Option) *stockService {
	def := DefaultOptions()
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = def.ReservationTTL
	}
	if opts.CriticalThreshold < 0 {
		opts.CriticalThreshold = def.CriticalThreshold
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}

	s := &stockService{
		repo:   repo,
		orders: ClientOrderIDAsOrderID{},
		events: events.Nop{},
		log:    log,
		tracer: otel.Tracer(tracerName),
		opts:   opts,
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

func (s *stockService) In(tx *repository.Repository) StockService {
	cp := *s
	cp.repo = tx
	return &cp
}

// unitOfWork выполняет fn в транзакции. Собственную транзакцию повторяет при конфликте
// сериализации. Присоединённую не повторяет, это делает владелец внешней транзакции.
func (s *stockService) unitOfWork(ctx context.Context, fn func(tx *repository.Repository) error) error {
	attempts := s.opts.MaxAttempts
	if s.repo.InTx() {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if errors.Is(err, repository.ErrBeginTx) && s.opts.AllowUnlocked {
			s.log.Warn("transaction unavailable, running without unit of work", zap.Error(err))
			return fn(s.repo)
		}
		if !repository.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		s.log.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *stockService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "stock."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, res Result, err error) {
	span.SetAttributes(attribute.String("stock.outcome", string(res.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// outcomeOf доопределяет исход по ошибке, если его не выставила сама операция.
func outcomeOf(res Result, err error) Result {
	if err == nil || res.Outcome != "" {
		return res
	}
	switch {
	case errors.Is(err, ErrInvariantViolated):
		res.Outcome = OutcomeInvariantViolated
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrEmptyClientOrderID), errors.Is(err, ErrInventoryNotFound):
		res.Outcome = OutcomeInvalid
	default:
		res.Outcome = OutcomeInfrastructureError
	}
	return res
}

func (s *stockService) threshold(inv *models.Inventory) int32 {
	if inv != nil && inv.LowStockThreshold != nil {
		return *inv.LowStockThreshold
	}
	return s.opts.CriticalThreshold
}

// notifyAfterCommit: уведомление уходит только после фиксации, его сбой операцию не ломает.
func (s *stockService) notifyAfterCommit(ctx context.Context, tx *repository.Repository, productID uuid.UUID, newStock, threshold int32) {
	if s.notifier == nil {
		return
	}
	tx.AfterCommit(ctx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("threshold notifier panicked",
					zap.String("product_id", productID.String()), zap.Any("panic", r))
			}
		}()
		if err := s.notifier.NotifyStockLevel(ctx, productID, newStock, threshold); err != nil {
			s.log.Warn("threshold notification failed",
				zap.String("product_id", productID.String()), zap.Error(err))
		}
	})
}

// available: доступный остаток по уже заблокированной строке. Нет строки: 0.
func (s *stockService) available(ctx context.Context, tx *repository.Repository, inv *models.Inventory, productID uuid.UUID, now time.Time) (int32, error) {
	if inv == nil {
		return 0, nil
	}
	reserved, err := tx.Reservations.SumActive(ctx, productID, now)
	if err != nil {
		return 0, err
	}
	return inv.OnHand - reserved, nil
}

func (s *stockService) lockAll(ctx context.Context, tx *repository.Repository, ids []uuid.UUID, locked map[uuid.UUID]*models.Inventory) error {
	for _, id := range ascending(ids) {
		if _, ok := locked[id]; ok {
			continue
		}
		inv, err := tx.Inventories.Lock(ctx, id)
		if err != nil {
			return err
		}
		locked[id] = inv
	}
	return nil
}

type group struct {
	productID uuid.UUID
	total     int32
	ids       []uuid.UUID
}

// groupByProduct: резервы приходят отсортированными по product_id, порядок сохраняется.
func groupByProduct(list []models.Reservation) []group {
	var out []group
	for _, r := range list {
		if n := len(out); n > 0 && out[n-1].productID == r.ProductID {
			out[n-1].total += r.Quantity
			out[n-1].ids = append(out[n-1].ids, r.ID)
			continue
		}
		out = append(out, group{productID: r.ProductID, total: r.Quantity, ids: []uuid.UUID{r.ID}})
	}
	return out
}

func productIDs(groups []group) []uuid.UUID {
	ids := make([]uuid.UUID, len(groups))
	for i, g := range groups {
		ids[i] = g.productID
	}
	return ids
}

// lockActiveSet блокирует товары активного набора ключа и перечитывает набор под блокировками.
func (s *stockService) lockActiveSet(ctx context.Context, tx *repository.Repository, clientOrderID string, now time.Time, extra []uuid.UUID) ([]group, map[uuid.UUID]*models.Inventory, error) {
	locked := make(map[uuid.UUID]*models.Inventory)
	for {
		active, err := tx.Reservations.ListActiveByClientOrder(ctx, clientOrderID, now)
		if err != nil {
			return nil, nil, err
		}
		groups := groupByProduct(active)

		var missing []uuid.UUID
		for _, id := range append(productIDs(groups), extra...) {
			if _, ok := locked[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return groups, locked, nil
		}
		if err := s.lockAll(ctx, tx, missing, locked); err != nil {
			return nil, nil, err
		}
	}
}

// releaseGroups снимает резервы с записью RELEASE в журнал. Блокировки уже взяты.
func (s *stockService) releaseGroups(ctx context.Context, tx *repository.Repository, clientOrderID string, groups []group, locked map[uuid.UUID]*models.Inventory, reason models.ReleaseReason, now time.Time) (int32, error) {
	var units int32
	var ids []uuid.UUID
	entries := make([]*models.StockMovement, 0, len(groups))
	for _, g := range groups {
		before, err := s.available(ctx, tx, locked[g.productID], g.productID, now)
		if err != nil {
			return 0, err
		}
		entries = append(entries, &models.StockMovement{
			ProductID:   g.productID,
			ChangeType:  models.ChangeRelease,
			Quantity:    g.total,
			StockBefore: before,
			StockAfter:  before + g.total,
			Reference:   clientOrderID,
			Reason:      string(reason),
			CreatedAt:   now,
		})
		ids = append(ids, g.ids...)
		units += g.total
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := tx.Reservations.MarkReleased(ctx, ids, reason, now, nil); err != nil {
		return 0, err
	}
	if err := tx.Ledger.Append(ctx, entries...); err != nil {
		return 0, err
	}
	return units, nil
}

func (s *stockService) ValidateStockForOrder(ctx context.Context, items []Item) (ok bool, msg string, err error) {
	ctx, span := s.startSpan(ctx, "ValidateStockForOrder", attribute.Int("stock.items", len(items)))
	res := Result{}
	defer func() {
		res = outcomeOf(res, err)
		endSpan(span, res, err)
		s.events.Emit(ctx, events.Event{Type: events.TypeValidate, Outcome: string(res.Outcome), Lines: res.Lines, Quantity: res.Units, Err: err})
	}()

	lines, err := NormalizeItems(items)
	if err != nil {
		return false, "", err
	}
	if len(lines) == 0 {
		res.Outcome = OutcomeEmpty
		return false, "order has no items", nil
	}

	ids := make([]uuid.UUID, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
		res.Units += l.Quantity
	}
	res.Lines = len(lines)

	now := s.now()
	invs, err := s.repo.Inventories.BatchGet(ctx, ids)
	if err != nil {
		return false, "", err
	}
	reserved, err := s.repo.Reservations.SumActiveByProducts(ctx, ids, now)
	if err != nil {
		return false, "", err
	}

	for _, l := range lines {
		var avail int32
		if inv, found := invs[l.ProductID]; found {
			avail = inv.OnHand - reserved[l.ProductID]
		}
		if avail >= l.Quantity {
			continue
		}

		name := l.ProductID.String()
		p, err := s.repo.Products.GetByID(ctx, l.ProductID)
		if err != nil {
			return false, "", err
		}
		if p != nil {
			name = p.Name
		}
		res.Outcome = OutcomeInsufficientStock
		res.Shortage = &Shortage{ProductID: l.ProductID, Requested: l.Quantity, Available: max(avail, 0)}
		return false, fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, l.Quantity, max(avail, 0)), nil
	}

	res.Outcome = OutcomeOK
	return true, "", nil
}

func (s *stockService) GetAvailability(ctx context.Context, productID uuid.UUID) (int32, error) {
	inv, err := s.repo.Inventories.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	if inv == nil {
		return 0, ErrInventoryNotFound
	}
	reserved, err := s.repo.Reservations.SumActive(ctx, productID, s.now())
	if err != nil {
		return 0, err
	}
	return inv.OnHand - reserved, nil
}

// ReserveStock заменяет активный набор резервов ключа новым целиком либо ничего не меняет.
func (s *stockService) ReserveStock(ctx context.Context, clientOrderID string, items []Item) (res Result, err error) {
	ctx, span := s.startSpan(ctx, "ReserveStock", attribute.String("stock.client_order_id", clientOrderID))
	defer func() {
		res = outcomeOf(res, err)
		endSpan(span, res, err)
		ev := events.Event{Type: events.TypeReserve, Outcome: string(res.Outcome), ClientOrderID: clientOrderID, Lines: res.Lines, Quantity: res.Units, Err: err}
		if res.Shortage != nil {
			ev.ProductID = res.Shortage.ProductID
		}
		s.events.Emit(ctx, ev)
	}()

	if clientOrderID == "" {
		return Result{}, ErrEmptyClientOrderID
	}
	normalized, err := NormalizeItems(items)
	if err != nil {
		return Result{}, err
	}
	lines := sortedLines(normalized)
	if len(lines) == 0 {
		return Result{Outcome: OutcomeEmpty}, nil
	}

	now := s.now()
	wantIDs := make([]uuid.UUID, len(lines))
	for i, l := range lines {
		wantIDs[i] = l.ProductID
	}

	err = s.unitOfWork(ctx, func(tx *repository.Repository) error {
		res = Result{}

		prev, locked, err := s.lockActiveSet(ctx, tx, clientOrderID, now, wantIDs)
		if err != nil {
			return err
		}
		if _, err := s.releaseGroups(ctx, tx, clientOrderID, prev, locked, models.ReleaseReasonReplaced, now); err != nil {
			return err
		}

		rows := make([]models.Reservation, 0, len(lines))
		entries := make([]*models.StockMovement, 0, len(lines))
		for _, l := range lines {
			avail, err := s.available(ctx, tx, locked[l.ProductID], l.ProductID, now)
			if err != nil {
				return err
			}
			if avail < l.Quantity {
				res = Result{
					Outcome:  OutcomeInsufficientStock,
					Shortage: &Shortage{ProductID: l.ProductID, Requested: l.Quantity, Available: max(avail, 0)},
				}
				return errAbort
			}
			rows = append(rows, models.Reservation{
				ClientOrderID: clientOrderID,
				ProductID:     l.ProductID,
				Quantity:      l.Quantity,
				CreatedAt:     now,
				ExpiresAt:     now.Add(s.opts.ReservationTTL),
			})
			entries = append(entries, &models.StockMovement{
				ProductID:   l.ProductID,
				ChangeType:  models.ChangeReserve,
				Quantity:    -l.Quantity,
				StockBefore: avail,
				StockAfter:  avail - l.Quantity,
				Reference:   clientOrderID,
				CreatedAt:   now,
			})
			res.Units += l.Quantity
		}

		if err := tx.Reservations.CreateBatch(ctx, rows); err != nil {
			return err
		}
		if err := tx.Ledger.Append(ctx, entries...); err != nil {
			return err
		}
		res.Outcome = OutcomeOK
		res.Lines = len(rows)
		return nil
	})
	if errors.Is(err, errAbort) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// CommitReservation списывает активный набор ключа с физического остатка.
// Повторный вызов после успешного коммита ничего не делает.
func (s *stockService) CommitReservation(ctx context.Context, clientOrderID string) (res Result, err error) {
	ctx, span := s.startSpan(ctx, "CommitReservation", attribute.String("stock.client_order_id", clientOrderID))
	var violated uuid.UUID
	defer func() {
		res = outcomeOf(res, err)
		endSpan(span, res, err)
		s.events.Emit(ctx, events.Event{Type: events.TypeCommit, Outcome: string(res.Outcome), ClientOrderID: clientOrderID, ProductID: violated, Lines: res.Lines, Quantity: res.Units, Err: err})
	}()

	if clientOrderID == "" {
		return Result{}, ErrEmptyClientOrderID
	}

	// до транзакции: поиск заказа может быть сетевым вызовом
	orderID, lookupErr := s.orders.OrderIDForClientOrder(ctx, clientOrderID)
	if lookupErr != nil {
		s.log.Warn("order lookup failed, committing without order link",
			zap.String("client_order_id", clientOrderID), zap.Error(lookupErr))
		orderID = nil
	}

	now := s.now()
	err = s.unitOfWork(ctx, func(tx *repository.Repository) error {
		res = Result{}

		groups, locked, err := s.lockActiveSet(ctx, tx, clientOrderID, now, nil)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			s.warnIfExpired(ctx, tx, clientOrderID, now)
			return nil
		}

		var ids []uuid.UUID
		entries := make([]*models.StockMovement, 0, len(groups))
		for _, g := range groups {
			inv := locked[g.productID]
			if inv == nil || inv.OnHand < g.total {
				var onHand int32
				if inv != nil {
					onHand = inv.OnHand
				}
				violated = g.productID
				s.log.Error("on-hand below reserved quantity at commit",
					zap.String("client_order_id", clientOrderID),
					zap.String("product_id", g.productID.String()),
					zap.Int32("on_hand", onHand),
					zap.Int32("reserved", g.total),
				)
				return fmt.Errorf("%w: product %s on hand %d, reserved %d", ErrInvariantViolated, g.productID, onHand, g.total)
			}

			ok, err := tx.Inventories.AddOnHand(ctx, g.productID, -g.total)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: product %s", ErrInvariantViolated, g.productID)
			}
			after := inv.OnHand - g.total
			entries = append(entries, &models.StockMovement{
				ProductID:   g.productID,
				ChangeType:  models.ChangeCommit,
				Quantity:    -g.total,
				StockBefore: inv.OnHand,
				StockAfter:  after,
				Reference:   clientOrderID,
				CreatedAt:   now,
			})
			ids = append(ids, g.ids...)
			res.Units += g.total
			s.notifyAfterCommit(ctx, tx, g.productID, after, s.threshold(inv))
		}

		if _, err := tx.Reservations.MarkReleased(ctx, ids, models.ReleaseReasonCommitted, now, orderID); err != nil {
			return err
		}
		if err := tx.Ledger.Append(ctx, entries...); err != nil {
			return err
		}
		res.Lines = len(groups)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomeOK
	return res, nil
}

// warnIfExpired: коммит после истечения TTL ничего не списывает, пишем предупреждение.
func (s *stockService) warnIfExpired(ctx context.Context, tx *repository.Repository, clientOrderID string, now time.Time) {
	all, err := tx.Reservations.ListByClientOrder(ctx, clientOrderID)
	if err != nil {
		return
	}
	for _, r := range all {
		if !r.IsReleased && !r.IsActive(now) {
			s.log.Warn("reservation expired before commit",
				zap.String("client_order_id", clientOrderID),
				zap.Time("expired_at", r.ExpiresAt))
			return
		}
	}
}

func (s *stockService) ReleaseReservation(ctx context.Context, clientOrderID string) (res Result, err error) {
	ctx, span := s.startSpan(ctx, "ReleaseReservation", attribute.String("stock.client_order_id", clientOrderID))
	defer func() {
		res = outcomeOf(res, err)
		endSpan(span, res, err)
		s.events.Emit(ctx, events.Event{Type: events.TypeRelease, Outcome: string(res.Outcome), ClientOrderID: clientOrderID, Lines: res.Lines, Quantity: res.Units, Err: err})
	}()

	if clientOrderID == "" {
		return Result{}, ErrEmptyClientOrderID
	}

	now := s.now()
	err = s.unitOfWork(ctx, func(tx *repository.Repository) error {
		res = Result{}

		groups, locked, err := s.lockActiveSet(ctx, tx, clientOrderID, now, nil)
		if err != nil {
			return err
		}
		units, err := s.releaseGroups(ctx, tx, clientOrderID, groups, locked, models.ReleaseReasonReleased, now)
		if err != nil {
			return err
		}
		res.Lines = len(groups)
		res.Units = units
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomeOK
	return res, nil
}

func (s *stockService) IncreaseStock(ctx context.Context, productID uuid.UUID, qty int32, adj Adjustment) (Result, error) {
	return s.adjust(ctx, productID, qty, 1, adj)
}

func (s *stockService) DecreaseStock(ctx context.Context, productID uuid.UUID, qty int32, adj Adjustment) (Result, error) {
	return s.adjust(ctx, productID, qty, -1, adj)
}

// adjust: ручная корректировка физического остатка на sign*qty с записью ADJUST.
func (s *stockService) adjust(ctx context.Context, productID uuid.UUID, qty, sign int32, adj Adjustment) (res Result, err error) {
	delta := sign * qty
	ctx, span := s.startSpan(ctx, "AdjustStock",
		attribute.String("stock.product_id", productID.String()),
		attribute.Int("stock.delta", int(delta)),
	)
	defer func() {
		res = outcomeOf(res, err)
		endSpan(span, res, err)
		s.events.Emit(ctx, events.Event{Type: events.TypeAdjust, Outcome: string(res.Outcome), ProductID: productID, Lines: res.Lines, Quantity: res.Units, Reason: adj.Reason, Err: err})
	}()

	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	if adj.ActorID == nil {
		if uid, ok := UserIDFromContext(ctx); ok {
			adj.ActorID = &uid
		}
	}

	now := s.now()
	err = s.unitOfWork(ctx, func(tx *repository.Repository) error {
		res = Result{}

		inv, err := tx.Inventories.Lock(ctx, productID)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrInventoryNotFound
		}
		if delta > 0 && inv.OnHand > math.MaxInt32-delta {
			return fmt.Errorf("%w: on hand %d plus %d exceeds %d", ErrInvalidQuantity, inv.OnHand, delta, math.MaxInt32)
		}
		if inv.OnHand+delta < 0 {
			res = Result{
				Outcome:    OutcomeInsufficientStock,
				Shortage:   &Shortage{ProductID: productID, Requested: -delta, Available: inv.OnHand},
				StockAfter: inv.OnHand,
			}
			return errAbort
		}

		ok, err := tx.Inventories.AddOnHand(ctx, productID, delta)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("adjust product %s: on-hand changed under lock", productID)
		}
		after := inv.OnHand + delta
		if err := tx.Ledger.Append(ctx, &models.StockMovement{
			ProductID:   productID,
			ChangeType:  models.ChangeAdjust,
			Quantity:    delta,
			StockBefore: inv.OnHand,
			StockAfter:  after,
			Reference:   adj.Note,
			Reason:      adj.Reason,
			ActorID:     adj.ActorID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if delta < 0 {
			s.notifyAfterCommit(ctx, tx, productID, after, s.threshold(inv))
		}

		res = Result{Outcome: OutcomeOK, Lines: 1, Units: qty, StockAfter: after}
		return nil
	})
	if errors.Is(err, errAbort) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
