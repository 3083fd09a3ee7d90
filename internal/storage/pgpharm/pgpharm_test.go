package pgpharm

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGPharm_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "pharmbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/pharmbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	// рецепт: pending -> verified
	rx, err := st.CreatePrescription(ctx, models.PrescriptionCreateInput{UserID: 7})
	require.NoError(t, err)
	require.Equal(t, models.PrescriptionStatusPending, rx.VerificationStatus)

	rx, err = st.VerifyPrescription(ctx, rx.ID, 42)
	require.NoError(t, err)
	require.Equal(t, models.PrescriptionStatusVerified, rx.VerificationStatus)
	require.NotNil(t, rx.VerifiedBy)
	require.EqualValues(t, 42, *rx.VerifiedBy)

	interval := int32(7)
	med, err := st.CreateMedication(ctx, MedicationInsert{Name: "Amoxicillin 500mg", CatalogPriceCents: 1500, SupplyIntervalDays: &interval})
	require.NoError(t, err)
	require.NotZero(t, med.ID)

	prov, err := st.CreateProvider(ctx, ProviderInsert{Name: "MedSupply", BaseURL: "https://feed.medsupply.test", APIKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, models.ProviderStatusDisconnected, prov.ConnectionStatus)

	// claim бронирует провайдера через next_sync_at += lease
	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDueProviders(ctx, now.Add(time.Second), 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, prov.ID, due[0].ID)

	claimed, err := st.GetProvider(ctx, prov.ID)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(lease), claimed.NextSyncAt, 2*time.Second)

	n, err := st.ReplaceProviderItems(ctx, prov.ID, []models.InventoryItemInput{
		{ExternalID: "SKU-1", Name: "Amoxicillin 500mg", Quantity: 100, Unit: "tablet", RetailCents: 1399, InStock: true},
		{ExternalID: "SKU-2", Name: "Amoxicillin 500mg generic", Quantity: 50, Unit: "tablet", RetailCents: 1299, InStock: true},
	}, now)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	synced, err := st.GetProvider(ctx, prov.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProviderStatusConnected, synced.ConnectionStatus)
	require.Zero(t, synced.SyncFailCount)

	var item1, item2 int64
	require.NoError(t, st.db.QueryRow(ctx, `SELECT id FROM inventory_items WHERE provider_id = $1 AND external_id = 'SKU-1'`, prov.ID).Scan(&item1))
	require.NoError(t, st.db.QueryRow(ctx, `SELECT id FROM inventory_items WHERE provider_id = $1 AND external_id = 'SKU-2'`, prov.ID).Scan(&item2))

	// automatic с confidence 0.8 берёт primary, 0.9 его вытесняет
	c1, c2 := 0.8, 0.9
	m1, err := st.CreateMapping(ctx, MappingInsert{MedicationID: med.ID, InventoryItemID: item1, MappingType: models.MappingTypeAutomatic, MappingConfidence: &c1})
	require.NoError(t, err)
	require.True(t, m1.IsPrimary)

	m2, err := st.CreateMapping(ctx, MappingInsert{MedicationID: med.ID, InventoryItemID: item2, MappingType: models.MappingTypeAutomatic, MappingConfidence: &c2})
	require.NoError(t, err)
	require.True(t, m2.IsPrimary)

	// ручной promote возвращает primary первому и закрепляет его как manual
	m1, err = st.PromoteMapping(ctx, m1.ID)
	require.NoError(t, err)
	require.True(t, m1.IsPrimary)
	require.Equal(t, models.MappingTypeManual, m1.MappingType)

	// более сильный automatic-кандидат ручной выбор не вытесняет
	c3 := 0.95
	m3, err := st.CreateMapping(ctx, MappingInsert{MedicationID: med.ID, InventoryItemID: item2, MappingType: models.MappingTypeAutomatic, MappingConfidence: &c3})
	require.NoError(t, err)
	require.False(t, m3.IsPrimary)

	active, err := st.ListActiveMappings(ctx, med.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	primaries := 0
	for _, mw := range active {
		if mw.Mapping.IsPrimary {
			primaries++
			require.Equal(t, m1.ID, mw.Mapping.ID)
		}
	}
	require.Equal(t, 1, primaries)

	// повторный снапшот без SKU-2: его маппинг уходит в error и из active пропадает
	n, err = st.ReplaceProviderItems(ctx, prov.ID, []models.InventoryItemInput{
		{ExternalID: "SKU-1", Name: "Amoxicillin 500mg", Quantity: 80, Unit: "tablet", RetailCents: 1399, InStock: true},
	}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	active, err = st.ListActiveMappings(ctx, med.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, m1.ID, active[0].Mapping.ID)
	require.EqualValues(t, 80, active[0].Item.Quantity)

	orphan, err := st.GetMapping(ctx, m2.ID)
	require.NoError(t, err)
	require.Equal(t, models.MappingStatusError, orphan.MappingStatus)
	require.False(t, orphan.IsPrimary)

	// заказ: optimistic version на переходах
	ord, err := st.CreateOrder(ctx, OrderInsert{
		UserID:            7,
		PrescriptionID:    &rx.ID,
		ShippingMethod:    "standard",
		ShippingCostCents: 500,
		TotalCents:        3298,
		Items:             []OrderItemInsert{{MedicationID: med.ID, Quantity: 2, UnitPriceCents: 1399}},
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, ord.Status)
	require.Len(t, ord.Items, 1)

	ord, err = st.TransitionOrder(ctx, ord.ID, models.OrderStatusPending, models.OrderStatusProcessing, ord.Version, nil)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusProcessing, ord.Status)

	_, err = st.TransitionOrder(ctx, ord.ID, models.OrderStatusProcessing, models.OrderStatusShipped, ord.Version-1, nil)
	require.ErrorIs(t, err, models.ErrConcurrencyConflict)

	ord, err = st.TransitionOrder(ctx, ord.ID, models.OrderStatusProcessing, models.OrderStatusShipped, ord.Version,
		&models.ShipmentInput{TrackingNumber: "1Z999", Carrier: "UPS"})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, ord.Status)
	require.NotNil(t, ord.TrackingNumber)
	require.Equal(t, "1Z999", *ord.TrackingNumber)

	// отзыв рецепта гасит pending/processing заказы, отгруженный не трогаем
	pending, err := st.CreateOrder(ctx, OrderInsert{UserID: 7, PrescriptionID: &rx.ID, ShippingMethod: "standard", TotalCents: 100})
	require.NoError(t, err)

	revoked, cancelled, err := st.RevokePrescription(ctx, rx.ID)
	require.NoError(t, err)
	require.True(t, revoked.Revoked)
	require.Len(t, cancelled, 1)
	require.Equal(t, pending.ID, cancelled[0].ID)

	got, err := st.GetOrder(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, got.Status)

	shippedStill, err := st.GetOrder(ctx, ord.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, shippedStill.Status)

	// рефилл: advance декрементит и на нуле гасит auto_refill
	rf, err := st.CreateRefillRequest(ctx, models.RefillRequestCreateInput{
		UserID:            7,
		MedicationID:      med.ID,
		Quantity:          1,
		RefillsAuthorized: 1,
		AutoRefill:        true,
		NextRefillAt:      now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, models.RefillStatusPending, rf.Status)

	rf, err = st.SetRefillStatus(ctx, rf.ID, models.RefillStatusPending, models.RefillStatusApproved)
	require.NoError(t, err)

	dueRefills, err := st.ListDueRefills(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, dueRefills, 1)
	require.Equal(t, rf.ID, dueRefills[0].ID)

	next := time.Now().UTC().Add(7 * 24 * time.Hour)
	adv, ok, err := st.AdvanceRefill(ctx, rf.ID, time.Now().UTC(), next)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, adv.RefillsRemaining)
	require.False(t, adv.AutoRefill)
	require.Equal(t, models.RefillStatusFilled, adv.Status)
	require.WithinDuration(t, next, adv.NextRefillAt, 2*time.Second)

	// повтор проигрывает условный UPDATE молча
	_, ok, err = st.AdvanceRefill(ctx, rf.ID, time.Now().UTC(), next)
	require.NoError(t, err)
	require.False(t, ok)

	// включить auto_refill на исчерпанном счётчике нельзя
	_, err = st.SetAutoRefill(ctx, rf.ID, true)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	// уведомления: dedupe_key давит дубликаты
	stored, err := st.InsertNotification(ctx, models.RefillNotification{
		UserID: 7, Type: models.NotificationTypeReminder,
		Message: "refill due", DedupeKey: "refill:1:reminder:2026-08-29", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = st.InsertNotification(ctx, models.RefillNotification{
		UserID: 7, Type: models.NotificationTypeReminder,
		Message: "refill due", DedupeKey: "refill:1:reminder:2026-08-29", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, stored)

	list, err := st.ListNotificationsByUser(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.False(t, list[0].Read)

	require.NoError(t, st.MarkNotificationRead(ctx, list[0].ID))
	list, err = st.ListNotificationsByUser(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.True(t, list[0].Read)
}
