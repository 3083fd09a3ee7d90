package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics — счётчики воркера. Собственный Registry, чтобы тесты могли
// создавать Metrics сколько угодно раз без паник MustRegister.
type Metrics struct {
	reg *prometheus.Registry

	SyncCycles          prometheus.Counter
	SyncErrors          prometheus.Counter
	ItemsIngested       prometheus.Counter
	RefillCycles        prometheus.Counter
	RefillsAdvanced     prometheus.Counter
	RefillsBlocked      prometheus.Counter
	OrdersCreated       prometheus.Counter
	NotificationsQueued prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		SyncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_sync_cycles_total",
			Help: "Provider sync attempts",
		}),
		SyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_sync_errors_total",
			Help: "Provider sync failures",
		}),
		ItemsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_inventory_items_ingested_total",
			Help: "Inventory items written by snapshot ingestion",
		}),
		RefillCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_refill_cycles_total",
			Help: "Refill scheduler cycles",
		}),
		RefillsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_refills_advanced_total",
			Help: "Refill requests decremented and rescheduled",
		}),
		RefillsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_refills_blocked_total",
			Help: "Due refills skipped because of a blocker",
		}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_auto_orders_created_total",
			Help: "Orders created by auto-refill",
		}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmbox_notifications_queued_total",
			Help: "Notifications published to the broker",
		}),
	}

	reg.MustRegister(
		m.SyncCycles, m.SyncErrors, m.ItemsIngested,
		m.RefillCycles, m.RefillsAdvanced, m.RefillsBlocked,
		m.OrdersCreated, m.NotificationsQueued,
	)
	return m
}

// Handler отдаёт /metrics для worker HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
