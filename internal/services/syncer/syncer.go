package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/integrations/provider"
	"github.com/BearBump/PharmBox/internal/metrics"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/notify"
)

type Repository interface {
	ClaimDueProviders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.InventoryProvider, error)
	MarkProviderSyncError(ctx context.Context, id int64, errMsg string, nextSyncAt time.Time) error
}

// Ingestor применяет снимок фида (обычно inventory.Service).
type Ingestor interface {
	IngestSnapshot(ctx context.Context, providerID int64, items []models.InventoryItemInput, syncedAt time.Time) (int, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Syncer struct {
	repo     Repository
	ingestor Ingestor
	client   provider.Client
	rl       RateLimiter
	queuer   notify.Queuer
	metrics  *metrics.Metrics

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	fetchTimeout       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, ingestor Ingestor, client provider.Client, rl RateLimiter) *Syncer {
	return &Syncer{
		repo: repo, ingestor: ingestor, client: client, rl: rl,
		pollInterval:       5 * time.Second,
		batchSize:          50,
		concurrency:        5,
		lease:              120 * time.Second,
		fetchTimeout:       30 * time.Second,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (s *Syncer) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Syncer {
	if pollInterval > 0 {
		s.pollInterval = pollInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if lease > 0 {
		s.lease = lease
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

func (s *Syncer) WithFetchTimeout(d time.Duration) *Syncer {
	if d > 0 {
		s.fetchTimeout = d
	}
	return s
}

func (s *Syncer) WithQueuer(q notify.Queuer) *Syncer {
	s.queuer = q
	return s
}

func (s *Syncer) WithMetrics(m *metrics.Metrics) *Syncer {
	s.metrics = m
	return s
}

// Trigger forces an immediate sync cycle (best-effort, non-blocking).
func (s *Syncer) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
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

func (s *Syncer) Run(ctx context.Context) error {
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

func (s *Syncer) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	if s.metrics != nil {
		s.metrics.SyncCycles.Inc()
	}

	providers, err := s.repo.ClaimDueProviders(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim due providers", "error", err.Error())
		s.noteError(err)
		return
	}
	s.totalClaimed.Add(int64(len(providers)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, p := range providers {
		sem <- struct{}{}
		wg.Add(1)
		pCopy := p
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.processOne(ctx, pCopy); err != nil {
				s.totalErrors.Add(1)
				if s.metrics != nil {
					s.metrics.SyncErrors.Inc()
				}
				s.noteError(err)
				slog.Error("sync provider", "provider_id", pCopy.ID, "error", err.Error())
			}
			s.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (s *Syncer) noteError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

// processOne тянет снимок фида и применяет его. Ошибка провайдера
// фиксируется в его строке и наружу цикла не распространяется.
func (s *Syncer) processOne(ctx context.Context, p *models.InventoryProvider) error {
	now := time.Now().UTC()

	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:provider:%d:%s", p.ID, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			slog.Warn("rate limit exceeded", "provider_id", p.ID, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	items, err := s.client.FetchSnapshot(fctx, p)
	cancel()
	if err != nil {
		return s.markFailed(ctx, p, now, err)
	}

	n, err := s.ingestor.IngestSnapshot(ctx, p.ID, items, now)
	if err != nil {
		return s.markFailed(ctx, p, now, err)
	}
	if s.metrics != nil {
		s.metrics.ItemsIngested.Add(float64(n))
	}
	slog.Info("provider synced", "provider_id", p.ID, "items", n)
	return nil
}

func (s *Syncer) markFailed(ctx context.Context, p *models.InventoryProvider, now time.Time, cause error) error {
	nextFail := p.SyncFailCount + 1
	next := now.Add(backoffDelay(nextFail))
	if err := s.repo.MarkProviderSyncError(ctx, p.ID, cause.Error(), next); err != nil {
		return err
	}
	if nextFail >= 3 && s.queuer != nil {
		// После третьего подряд фейла провайдер подвисает всерьёз,
		// сообщаем операторам (user 0 — служебный адресат).
		msg := messages.NotificationQueued{
			DedupeKey: fmt.Sprintf("provider:%d:sync-failing:%s", p.ID, now.Format("2006-01-02")),
			Type:      models.NotificationTypeStatusUpdate,
			Message:   fmt.Sprintf("Inventory provider %q keeps failing to sync: %s", p.Name, cause.Error()),
			QueuedAt:  now,
		}
		if qerr := s.queuer.Queue(ctx, msg); qerr != nil {
			slog.Error("queue provider failure notice", "provider_id", p.ID, "error", qerr.Error())
		}
	}
	return cause
}

// backoffDelay — ступени паузы между повторами по числу фейлов подряд.
func backoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return 1 * time.Minute
	case nextFailCount == 2:
		return 5 * time.Minute
	case nextFailCount == 3:
		return 15 * time.Minute
	default:
		return 60 * time.Minute
	}
}
