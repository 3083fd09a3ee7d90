package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/PharmBox/internal/cache"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in pgpharm.OrderInsert) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Order, error)
	TransitionOrder(ctx context.Context, orderID int64, from, to string, version int32, ship *models.ShipmentInput) (*models.Order, error)
}

// Gate решает, можно ли отгружать заказ по его рецепту.
type Gate interface {
	CanShip(ctx context.Context, prescriptionID *int64) error
}

// Inventory отдаёт primary-позицию провайдера для медикамента.
type Inventory interface {
	ResolvePrimary(ctx context.Context, medicationID int64) (*models.MappingWithItem, error)
}

type Catalog interface {
	GetMedication(ctx context.Context, id int64) (*models.Medication, error)
}

type Service struct {
	repo       Repository
	gate       Gate
	inventory  Inventory
	catalog    Catalog
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, gate Gate, inv Inventory, cat Catalog, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, gate: gate, inventory: inv, catalog: cat, cache: c, currentTTL: currentTTL}
}

// allowed-переходы машины статусов. Всё остальное — ErrInvalidTransition.
var transitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
}

func canTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s *Service) Create(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.UserID <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "userId is required")
	}
	if len(in.Items) == 0 {
		return nil, errors.Wrap(models.ErrValidation, "items is empty")
	}
	if in.ShippingMethod == "" {
		in.ShippingMethod = "standard"
	}

	ins := pgpharm.OrderInsert{
		UserID:            in.UserID,
		PrescriptionID:    in.PrescriptionID,
		ShippingMethod:    in.ShippingMethod,
		ShippingCostCents: in.ShippingCostCents,
	}
	total := in.ShippingCostCents
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, errors.Wrapf(models.ErrValidation, "medication %d: quantity must be positive", it.MedicationID)
		}
		unit, err := s.unitPriceCents(ctx, it.MedicationID)
		if err != nil {
			return nil, err
		}
		ins.Items = append(ins.Items, pgpharm.OrderItemInsert{
			MedicationID:   it.MedicationID,
			Quantity:       it.Quantity,
			UnitPriceCents: unit,
		})
		total += unit * it.Quantity
	}
	ins.TotalCents = total

	return s.repo.CreateOrder(ctx, ins)
}

// unitPriceCents — снимок цены на момент создания: retail-цена
// primary-позиции провайдера, иначе каталожная цена.
func (s *Service) unitPriceCents(ctx context.Context, medicationID int64) (int64, error) {
	mw, err := s.inventory.ResolvePrimary(ctx, medicationID)
	if err == nil {
		return mw.Item.RetailCents, nil
	}
	if !errors.Is(err, models.ErrNoMappingAvailable) {
		return 0, err
	}
	m, err := s.catalog.GetMedication(ctx, medicationID)
	if err != nil {
		return 0, err
	}
	return m.CatalogPriceCents, nil
}

// Approve прогоняет заказ pending -> processing -> shipped одним вызовом.
// Шлюзы (рецепт, остатки) проверяются свежим чтением непосредственно
// перед переходом в shipped.
func (s *Service) Approve(ctx context.Context, orderID int64, ship models.ShipmentInput) (*models.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case models.OrderStatusShipped, models.OrderStatusDelivered:
		// Идемпотентный повтор: отгрузка уже состоялась.
		return o, nil
	}

	o, err = s.transition(ctx, orderID, models.OrderStatusProcessing, nil, nil)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderStatusProcessing {
		// Идемпотентный повтор: заказ уже уехал дальше.
		return o, nil
	}
	return s.transition(ctx, orderID, models.OrderStatusShipped, &ship, s.shipGates)
}

// Acknowledge — только pending -> processing (авторефилл не отгружает сам).
func (s *Service) Acknowledge(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusProcessing, nil, nil)
}

func (s *Service) MarkDelivered(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusDelivered, nil, nil)
}

func (s *Service) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusCancelled, nil, nil)
}

type gateFn func(ctx context.Context, o *models.Order) error

// transition применяет один переход с optimistic-версией. Конфликт
// версий ретраится один раз со свежим чтением; шлюзы перечитываются
// на каждой попытке.
func (s *Service) transition(ctx context.Context, orderID int64, to string, ship *models.ShipmentInput, gates gateFn) (*models.Order, error) {
	for attempt := 0; attempt < 2; attempt++ {
		o, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status == to {
			return o, nil
		}
		if !canTransition(o.Status, to) {
			return nil, errors.Wrapf(models.ErrInvalidTransition, "order %d: %s -> %s", orderID, o.Status, to)
		}
		if gates != nil {
			if err := gates(ctx, o); err != nil {
				return nil, err
			}
		}
		upd, err := s.repo.TransitionOrder(ctx, orderID, o.Status, to, o.Version, ship)
		if errors.Is(err, models.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx, orderID)
		return upd, nil
	}
	return nil, errors.Wrapf(models.ErrConcurrencyConflict, "order %d: %s", orderID, to)
}

// shipGates — условия отгрузки: неотозванный verified-рецепт и
// достаточный остаток у primary-позиции каждой строки.
func (s *Service) shipGates(ctx context.Context, o *models.Order) error {
	if err := s.gate.CanShip(ctx, o.PrescriptionID); err != nil {
		return err
	}
	for _, it := range o.Items {
		mw, err := s.inventory.ResolvePrimary(ctx, it.MedicationID)
		if err != nil {
			return err
		}
		if !mw.Item.InStock || mw.Item.Quantity < it.Quantity {
			return errors.Wrapf(models.ErrInsufficientInventory,
				"medication %d: have %d, need %d", it.MedicationID, mw.Item.Quantity, it.Quantity)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Order, error) {
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(o); err == nil {
			_ = s.cache.Set(ctx, currentKey(id), b, s.currentTTL)
		}
	}
	return o, nil
}

func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Order, error) {
	if !validStatus(status) {
		return nil, errors.Wrapf(models.ErrValidation, "unknown status %q", status)
	}
	return s.repo.ListOrdersByStatus(ctx, status, limit, offset)
}

func validStatus(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusProcessing, models.OrderStatusShipped,
		models.OrderStatusDelivered, models.OrderStatusCancelled:
		return true
	}
	return false
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, currentKey(id))
	}
}

func currentKey(id int64) string {
	return fmt.Sprintf("orders:%d:current", id)
}
