package inventory

import (
	"context"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
	"github.com/pkg/errors"
)

type Repository interface {
	ReplaceProviderItems(ctx context.Context, providerID int64, items []models.InventoryItemInput, syncedAt time.Time) (int, error)
	ListActiveMappings(ctx context.Context, medicationID int64) ([]*models.MappingWithItem, error)
	GetMapping(ctx context.Context, id int64) (*models.InventoryMapping, error)
	PromoteMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error)
	CreateMapping(ctx context.Context, in pgpharm.MappingInsert) (*models.InventoryMapping, error)
	DeactivateMapping(ctx context.Context, mappingID int64) (*models.InventoryMapping, error)
	CreateProvider(ctx context.Context, in pgpharm.ProviderInsert) (*models.InventoryProvider, error)
	GetProvider(ctx context.Context, id int64) (*models.InventoryProvider, error)
	RefreshProvider(ctx context.Context, id int64) error
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// IngestSnapshot применяет полный снимок фида провайдера: позиции,
// исчезнувшие из фида, удаляются, их маппинги переводятся в error.
// Репозиторий делает всё одной транзакцией.
func (s *Service) IngestSnapshot(ctx context.Context, providerID int64, items []models.InventoryItemInput, syncedAt time.Time) (int, error) {
	if providerID <= 0 {
		return 0, errors.Wrap(models.ErrValidation, "providerId is required")
	}
	for _, it := range items {
		if it.ExternalID == "" {
			return 0, errors.Wrap(models.ErrValidation, "item externalId is required")
		}
	}
	return s.repo.ReplaceProviderItems(ctx, providerID, items, syncedAt)
}

// ResolvePrimary выбирает позицию провайдера, которой реально исполняется
// медикамент: явный primary, иначе лучший из активных маппингов.
func (s *Service) ResolvePrimary(ctx context.Context, medicationID int64) (*models.MappingWithItem, error) {
	rows, err := s.repo.ListActiveMappings(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	best := pickPrimary(rows)
	if best == nil {
		return nil, errors.Wrapf(models.ErrNoMappingAvailable, "medication %d", medicationID)
	}
	return best, nil
}

// pickPrimary: явный primary побеждает всегда. Среди остальных — выше
// confidence (nil уступает любому числу), при равенстве меньший id
// провайдера, чтобы выбор был детерминированным.
func pickPrimary(rows []*models.MappingWithItem) *models.MappingWithItem {
	var best *models.MappingWithItem
	for _, r := range rows {
		if r.Mapping.MappingStatus != models.MappingStatusActive {
			continue
		}
		if r.Mapping.IsPrimary {
			return r
		}
		if best == nil || betterCandidate(r, best) {
			best = r
		}
	}
	return best
}

func betterCandidate(a, b *models.MappingWithItem) bool {
	ac, bc := confOf(a), confOf(b)
	if ac != bc {
		return ac > bc
	}
	return a.Item.ProviderID < b.Item.ProviderID
}

func confOf(r *models.MappingWithItem) float64 {
	if r.Mapping.MappingConfidence == nil {
		return -1
	}
	return *r.Mapping.MappingConfidence
}

func (s *Service) Promote(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	return s.repo.PromoteMapping(ctx, mappingID)
}

// CreateAutomaticMapping принимает кандидата от внешнего matcher-а.
// Авто-промоушен в primary решает репозиторий (порог 0.5, ручной
// primary не вытесняется).
func (s *Service) CreateAutomaticMapping(ctx context.Context, medicationID, itemID int64, confidence float64) (*models.InventoryMapping, error) {
	if confidence < 0 || confidence > 1 {
		return nil, errors.Wrapf(models.ErrValidation, "confidence %v out of [0,1]", confidence)
	}
	return s.repo.CreateMapping(ctx, pgpharm.MappingInsert{
		MedicationID:      medicationID,
		InventoryItemID:   itemID,
		MappingType:       models.MappingTypeAutomatic,
		MappingConfidence: &confidence,
	})
}

func (s *Service) CreateManualMapping(ctx context.Context, medicationID, itemID int64) (*models.InventoryMapping, error) {
	return s.repo.CreateMapping(ctx, pgpharm.MappingInsert{
		MedicationID:    medicationID,
		InventoryItemID: itemID,
		MappingType:     models.MappingTypeManual,
	})
}

func (s *Service) Deactivate(ctx context.Context, mappingID int64) (*models.InventoryMapping, error) {
	return s.repo.DeactivateMapping(ctx, mappingID)
}

// TriggerSync подвигает next_sync_at в "сейчас"; воркер подхватит
// провайдера на следующем проходе.
func (s *Service) TriggerSync(ctx context.Context, providerID int64) error {
	return s.repo.RefreshProvider(ctx, providerID)
}

func (s *Service) CreateProvider(ctx context.Context, in pgpharm.ProviderInsert) (*models.InventoryProvider, error) {
	if in.Name == "" {
		return nil, errors.Wrap(models.ErrValidation, "name is required")
	}
	if in.BaseURL == "" {
		return nil, errors.Wrap(models.ErrValidation, "baseUrl is required")
	}
	return s.repo.CreateProvider(ctx, in)
}

func (s *Service) GetProvider(ctx context.Context, id int64) (*models.InventoryProvider, error) {
	return s.repo.GetProvider(ctx, id)
}
