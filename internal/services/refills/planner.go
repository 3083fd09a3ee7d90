package refills

import (
	"time"

	"github.com/BearBump/PharmBox/internal/models"
)

type PlannerConfig struct {
	DefaultIntervalDays int32 // default: 30
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{DefaultIntervalDays: 30}
}

// Planner считает дату следующего рефилла. Чистая логика, без I/O.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.DefaultIntervalDays <= 0 {
		cfg.DefaultIntervalDays = DefaultPlannerConfig().DefaultIntervalDays
	}
	return &Planner{cfg: cfg}
}

// NextRefillAt: предыдущая плановая дата плюс интервал курса медикамента.
// Считаем от плановой даты, а не от фактического времени обработки,
// чтобы расписание не дрейфовало при задержках воркера.
func (p *Planner) NextRefillAt(prev time.Time, med *models.Medication) time.Time {
	days := p.cfg.DefaultIntervalDays
	if med != nil && med.SupplyIntervalDays != nil && *med.SupplyIntervalDays > 0 {
		days = *med.SupplyIntervalDays
	}
	return prev.AddDate(0, 0, int(days))
}
