package orders

import (
	"context"
	"testing"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	orders map[int64]*models.Order
	nextID int64

	// подменяет один следующий TransitionOrder (для гонок)
	conflictOnce bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[int64]*models.Order{}}
}

func (f *fakeRepo) CreateOrder(ctx context.Context, in pgpharm.OrderInsert) (*models.Order, error) {
	f.nextID++
	o := &models.Order{
		ID:                f.nextID,
		UserID:            in.UserID,
		Status:            models.OrderStatusPending,
		PrescriptionID:    in.PrescriptionID,
		ShippingMethod:    in.ShippingMethod,
		ShippingCostCents: in.ShippingCostCents,
		TotalCents:        in.TotalCents,
		Version:           1,
	}
	for i, it := range in.Items {
		o.Items = append(o.Items, &models.OrderItem{
			ID:             int64(i + 1),
			OrderID:        o.ID,
			MedicationID:   it.MedicationID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) ListOrdersByStatus(ctx context.Context, status string, limit, offset int) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) TransitionOrder(ctx context.Context, orderID int64, from, to string, version int32, ship *models.ShipmentInput) (*models.Order, error) {
	if f.conflictOnce {
		f.conflictOnce = false
		return nil, models.ErrConcurrencyConflict
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Status != from || o.Version != version {
		return nil, models.ErrConcurrencyConflict
	}
	o.Status = to
	o.Version++
	if ship != nil {
		o.TrackingNumber = &ship.TrackingNumber
		o.Carrier = &ship.Carrier
	}
	cp := *o
	return &cp, nil
}

type fakeGate struct{ err error }

func (f *fakeGate) CanShip(ctx context.Context, prescriptionID *int64) error { return f.err }

type fakeInventory struct {
	byMed map[int64]*models.MappingWithItem
}

func (f *fakeInventory) ResolvePrimary(ctx context.Context, medicationID int64) (*models.MappingWithItem, error) {
	mw, ok := f.byMed[medicationID]
	if !ok {
		return nil, models.ErrNoMappingAvailable
	}
	return mw, nil
}

type fakeCatalog struct{ meds map[int64]*models.Medication }

func (f *fakeCatalog) GetMedication(ctx context.Context, id int64) (*models.Medication, error) {
	m, ok := f.meds[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m, nil
}

func inStock(providerID, qty, retail int64) *models.MappingWithItem {
	return &models.MappingWithItem{
		Mapping: models.InventoryMapping{MappingStatus: models.MappingStatusActive, IsPrimary: true},
		Item: models.InventoryItem{
			ProviderID:  providerID,
			Quantity:    qty,
			RetailCents: retail,
			InStock:     qty > 0,
		},
	}
}

func newService(repo *fakeRepo, gate *fakeGate, inv *fakeInventory, cat *fakeCatalog) *Service {
	if gate == nil {
		gate = &fakeGate{}
	}
	if inv == nil {
		inv = &fakeInventory{byMed: map[int64]*models.MappingWithItem{}}
	}
	if cat == nil {
		cat = &fakeCatalog{meds: map[int64]*models.Medication{}}
	}
	return New(repo, gate, inv, cat, nil, 0)
}

func TestCreate_PriceSnapshotAndTotal(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{
		1: inStock(1, 100, 1250),
	}}
	cat := &fakeCatalog{meds: map[int64]*models.Medication{
		2: {ID: 2, CatalogPriceCents: 700},
	}}
	s := newService(repo, nil, inv, cat)

	o, err := s.Create(context.Background(), models.OrderCreateInput{
		UserID:            5,
		ShippingCostCents: 499,
		Items: []models.OrderItemInput{
			{MedicationID: 1, Quantity: 2}, // retail 1250
			{MedicationID: 2, Quantity: 3}, // без маппинга: каталожная 700
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, o.Status)
	require.Equal(t, int64(1250), o.Items[0].UnitPriceCents)
	require.Equal(t, int64(700), o.Items[1].UnitPriceCents)
	require.Equal(t, int64(499+2*1250+3*700), o.TotalCents)
	require.Equal(t, "standard", o.ShippingMethod)
}

func TestCreate_Validation(t *testing.T) {
	s := newService(newFakeRepo(), nil, nil, nil)
	ctx := context.Background()

	_, err := s.Create(ctx, models.OrderCreateInput{UserID: 0})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.Create(ctx, models.OrderCreateInput{UserID: 1})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = s.Create(ctx, models.OrderCreateInput{
		UserID: 1,
		Items:  []models.OrderItemInput{{MedicationID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestApprove_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{1: inStock(1, 10, 1000)}}
	s := newService(repo, nil, inv, nil)
	ctx := context.Background()

	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID: 5,
		Items:  []models.OrderItemInput{{MedicationID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	got, err := s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "TRK-1", Carrier: "ups"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, got.Status)
	require.Equal(t, "TRK-1", *got.TrackingNumber)

	// повтор идемпотентен
	again, err := s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "TRK-2", Carrier: "ups"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, again.Status)
	require.Equal(t, "TRK-1", *again.TrackingNumber)
}

func TestApprove_RepeatAfterDelivery(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{1: inStock(1, 10, 1000)}}
	s := newService(repo, nil, inv, nil)
	ctx := context.Background()

	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID: 5,
		Items:  []models.OrderItemInput{{MedicationID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "T", Carrier: "ups"})
	require.NoError(t, err)
	_, err = s.MarkDelivered(ctx, o.ID)
	require.NoError(t, err)

	again, err := s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "T2", Carrier: "ups"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDelivered, again.Status)
}

func TestApprove_GateBlocksShipment(t *testing.T) {
	repo := newFakeRepo()
	gate := &fakeGate{err: models.ErrPrescriptionNotVerified}
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{1: inStock(1, 10, 1000)}}
	s := newService(repo, gate, inv, nil)
	ctx := context.Background()

	rxID := int64(3)
	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID:         5,
		PrescriptionID: &rxID,
		Items:          []models.OrderItemInput{{MedicationID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "T", Carrier: "ups"})
	require.ErrorIs(t, err, models.ErrPrescriptionNotVerified)

	// заказ остался processing: переход в shipped не случился
	cur, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusProcessing, cur.Status)
}

func TestApprove_InsufficientInventory(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{1: inStock(1, 1, 1000)}}
	s := newService(repo, nil, inv, nil)
	ctx := context.Background()

	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID: 5,
		Items:  []models.OrderItemInput{{MedicationID: 1, Quantity: 5}},
	})
	require.NoError(t, err)

	_, err = s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "T", Carrier: "ups"})
	require.ErrorIs(t, err, models.ErrInsufficientInventory)
}

func TestTransition_RetriesConflictOnce(t *testing.T) {
	repo := newFakeRepo()
	cat := &fakeCatalog{meds: map[int64]*models.Medication{2: {ID: 2, CatalogPriceCents: 100}}}
	s := newService(repo, nil, nil, cat)
	ctx := context.Background()

	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID: 5,
		Items:  []models.OrderItemInput{{MedicationID: 2, Quantity: 1}},
	})
	require.NoError(t, err)

	repo.conflictOnce = true
	got, err := s.Acknowledge(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusProcessing, got.Status)
}

func TestCancel_AndInvalidTransitions(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInventory{byMed: map[int64]*models.MappingWithItem{1: inStock(1, 10, 1000)}}
	s := newService(repo, nil, inv, nil)
	ctx := context.Background()

	o, err := s.Create(ctx, models.OrderCreateInput{
		UserID: 5,
		Items:  []models.OrderItemInput{{MedicationID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	// доставку нельзя подтвердить из pending
	_, err = s.MarkDelivered(ctx, o.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := s.Cancel(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, got.Status)

	// отменённый заказ никуда не едет
	_, err = s.Approve(ctx, o.ID, models.ShipmentInput{TrackingNumber: "T", Carrier: "ups"})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	// повторная отмена идемпотентна
	again, err := s.Cancel(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, again.Status)
}

func TestListByStatus_RejectsUnknown(t *testing.T) {
	s := newService(newFakeRepo(), nil, nil, nil)
	_, err := s.ListByStatus(context.Background(), "bogus", 10, 0)
	require.ErrorIs(t, err, models.ErrValidation)
}
