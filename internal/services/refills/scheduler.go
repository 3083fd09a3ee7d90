package refills

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/metrics"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/notify"
)

type SchedulerRepository interface {
	ListDueRefills(ctx context.Context, now time.Time, limit int) ([]*models.RefillRequest, error)
	AdvanceRefill(ctx context.Context, id int64, now, nextRefillAt time.Time) (*models.RefillRequest, bool, error)
}

type Gate interface {
	CanShip(ctx context.Context, prescriptionID *int64) error
}

type Inventory interface {
	ResolvePrimary(ctx context.Context, medicationID int64) (*models.MappingWithItem, error)
}

type Catalog interface {
	GetMedication(ctx context.Context, id int64) (*models.Medication, error)
}

type Orders interface {
	Create(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	Acknowledge(ctx context.Context, orderID int64) (*models.Order, error)
}

type Scheduler struct {
	repo      SchedulerRepository
	gate      Gate
	inventory Inventory
	catalog   Catalog
	orders    Orders
	queuer    notify.Queuer
	planner   *Planner
	metrics   *metrics.Metrics

	pollInterval time.Duration
	batchSize    int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalDue            atomic.Int64
	totalAdvanced       atomic.Int64
	totalBlocked        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewScheduler(repo SchedulerRepository, gate Gate, inv Inventory, cat Catalog, ord Orders, queuer notify.Queuer) *Scheduler {
	return &Scheduler{
		repo: repo, gate: gate, inventory: inv, catalog: cat, orders: ord, queuer: queuer,
		planner:           NewPlanner(DefaultPlannerConfig()),
		pollInterval:      24 * time.Hour,
		batchSize:         200,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(pollInterval time.Duration, batchSize int) *Scheduler {
	if pollInterval > 0 {
		s.pollInterval = pollInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

func (s *Scheduler) WithPlanner(cfg PlannerConfig) *Scheduler {
	s.planner = NewPlanner(cfg)
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalDue      int64      `json:"totalDue"`
	TotalAdvanced int64      `json:"totalAdvanced"`
	TotalBlocked  int64      `json:"totalBlocked"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalDue:      s.totalDue.Load(),
		TotalAdvanced: s.totalAdvanced.Load(),
		TotalBlocked:  s.totalBlocked.Load(),
		TotalErrors:   s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	if s.metrics != nil {
		s.metrics.RefillCycles.Inc()
	}

	due, err := s.repo.ListDueRefills(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("list due refills", "error", err.Error())
		s.noteError(err)
		return
	}
	s.totalDue.Add(int64(len(due)))

	// Последовательно: решает всё равно conditional UPDATE в AdvanceRefill,
	// а объёмы суточного цикла небольшие.
	for _, r := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.processOne(ctx, r, now); err != nil {
			s.totalErrors.Add(1)
			s.noteError(err)
			slog.Error("process refill", "refill_id", r.ID, "error", err.Error())
		}
	}
}

func (s *Scheduler) noteError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

func (s *Scheduler) processOne(ctx context.Context, r *models.RefillRequest, now time.Time) error {
	// Шаг 1: блокеры. Ничего не списываем, только напоминание.
	if reason := s.blocker(ctx, r); reason != "" {
		s.totalBlocked.Add(1)
		if s.metrics != nil {
			s.metrics.RefillsBlocked.Inc()
		}
		return s.queue(ctx, messages.NotificationQueued{
			DedupeKey:       fmt.Sprintf("refill:%d:blocked:%s", r.ID, now.Format("2006-01-02")),
			UserID:          r.UserID,
			RefillRequestID: &r.ID,
			Type:            models.NotificationTypeReminder,
			Message:         fmt.Sprintf("Refill for medication %d is due but on hold: %s", r.MedicationID, reason),
			QueuedAt:        now,
		})
	}

	med, err := s.catalog.GetMedication(ctx, r.MedicationID)
	if err != nil {
		return err
	}

	// Шаг 2: списание. Это точка фиксации: проигравший гонку получает
	// 0 строк и молча выходит.
	upd, ok, err := s.repo.AdvanceRefill(ctx, r.ID, now, s.planner.NextRefillAt(r.NextRefillAt, med))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.totalAdvanced.Add(1)
	if s.metrics != nil {
		s.metrics.RefillsAdvanced.Inc()
	}

	// Шаг 3/4: автозаказ или напоминание. Решаем по значению ДО списания:
	// AdvanceRefill гасит auto_refill на исчерпании, а последний
	// авторизованный рефилл ещё должен исполниться.
	if r.AutoRefill {
		return s.autoOrder(ctx, r, upd, now)
	}
	return s.queue(ctx, messages.NotificationQueued{
		DedupeKey:       fmt.Sprintf("refill:%d:reminder:%s", r.ID, now.Format("2006-01-02")),
		UserID:          r.UserID,
		RefillRequestID: &r.ID,
		Type:            models.NotificationTypeReminder,
		Message:         fmt.Sprintf("Time to refill medication %d (%d refills remaining)", r.MedicationID, upd.RefillsRemaining),
		QueuedAt:        now,
	})
}

// blocker возвращает человекочитаемую причину, по которой рефилл
// сегодня не исполняется, либо пустую строку.
func (s *Scheduler) blocker(ctx context.Context, r *models.RefillRequest) string {
	if err := s.gate.CanShip(ctx, r.PrescriptionID); err != nil {
		return "prescription is not valid"
	}
	mw, err := s.inventory.ResolvePrimary(ctx, r.MedicationID)
	if err != nil {
		return "no inventory source is mapped"
	}
	if !mw.Item.InStock || mw.Item.Quantity < r.Quantity {
		return "primary inventory source is out of stock"
	}
	return ""
}

func (s *Scheduler) autoOrder(ctx context.Context, r, upd *models.RefillRequest, now time.Time) error {
	o, err := s.orders.Create(ctx, models.OrderCreateInput{
		UserID:         r.UserID,
		PrescriptionID: r.PrescriptionID,
		Items:          []models.OrderItemInput{{MedicationID: r.MedicationID, Quantity: r.Quantity}},
	})
	if err != nil {
		// Списание уже зафиксировано: сообщаем о неудаче, не откатываем.
		return s.queue(ctx, messages.NotificationQueued{
			DedupeKey:       fmt.Sprintf("refill:%d:auto:%s", r.ID, now.Format("2006-01-02")),
			UserID:          r.UserID,
			RefillRequestID: &r.ID,
			Type:            models.NotificationTypeAutoRefill,
			Message:         fmt.Sprintf("Automatic refill for medication %d failed: %s", r.MedicationID, err.Error()),
			QueuedAt:        now,
		})
	}
	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	if _, err := s.orders.Acknowledge(ctx, o.ID); err != nil {
		slog.Warn("acknowledge auto order", "order_id", o.ID, "error", err.Error())
	}
	return s.queue(ctx, messages.NotificationQueued{
		DedupeKey:       fmt.Sprintf("refill:%d:auto:%s", r.ID, now.Format("2006-01-02")),
		UserID:          r.UserID,
		RefillRequestID: &r.ID,
		Type:            models.NotificationTypeAutoRefill,
		Message:         fmt.Sprintf("Order %d was created automatically (%d refills remaining)", o.ID, upd.RefillsRemaining),
		QueuedAt:        now,
	})
}

func (s *Scheduler) queue(ctx context.Context, msg messages.NotificationQueued) error {
	if s.queuer == nil {
		return nil
	}
	if err := s.queuer.Queue(ctx, msg); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.NotificationsQueued.Inc()
	}
	return nil
}
