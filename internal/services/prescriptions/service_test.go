package prescriptions

import (
	"context"
	"testing"

	"github.com/BearBump/PharmBox/internal/broker/messages"
	"github.com/BearBump/PharmBox/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	byID      map[int64]*models.Prescription
	cancelled []*models.Order
}

func (f *fakeRepo) CreatePrescription(ctx context.Context, in models.PrescriptionCreateInput) (*models.Prescription, error) {
	p := &models.Prescription{
		ID:                 int64(len(f.byID) + 1),
		UserID:             in.UserID,
		VerificationStatus: models.PrescriptionStatusPending,
	}
	if f.byID == nil {
		f.byID = map[int64]*models.Prescription{}
	}
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeRepo) GetPrescription(ctx context.Context, id int64) (*models.Prescription, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) VerifyPrescription(ctx context.Context, id, reviewerID int64) (*models.Prescription, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if p.Revoked {
		return nil, models.ErrInvalidTransition
	}
	p.VerificationStatus = models.PrescriptionStatusVerified
	p.VerifiedBy = &reviewerID
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) RevokePrescription(ctx context.Context, id int64) (*models.Prescription, []*models.Order, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	p.Revoked = true
	p.VerificationStatus = models.PrescriptionStatusRevoked
	cp := *p
	return &cp, f.cancelled, nil
}

type fakeQueuer struct {
	queued []messages.NotificationQueued
}

func (f *fakeQueuer) Queue(ctx context.Context, msg messages.NotificationQueued) error {
	f.queued = append(f.queued, msg)
	return nil
}

func TestUpload_RequiresUser(t *testing.T) {
	s := New(&fakeRepo{}, nil)
	_, err := s.Upload(context.Background(), models.PrescriptionCreateInput{})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestVerify(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, nil)
	ctx := context.Background()

	p, err := s.Upload(ctx, models.PrescriptionCreateInput{UserID: 5})
	require.NoError(t, err)

	_, err = s.Verify(ctx, p.ID, 0)
	require.ErrorIs(t, err, models.ErrValidation)

	got, err := s.Verify(ctx, p.ID, 42)
	require.NoError(t, err)
	require.Equal(t, models.PrescriptionStatusVerified, got.VerificationStatus)
	require.Equal(t, int64(42), *got.VerifiedBy)
}

func TestRevoke_QueuesCancellationNotices(t *testing.T) {
	repo := &fakeRepo{}
	q := &fakeQueuer{}
	s := New(repo, q)
	ctx := context.Background()

	p, err := s.Upload(ctx, models.PrescriptionCreateInput{UserID: 5})
	require.NoError(t, err)
	repo.cancelled = []*models.Order{
		{ID: 10, UserID: 5, Status: models.OrderStatusCancelled},
		{ID: 11, UserID: 5, Status: models.OrderStatusCancelled},
	}

	got, err := s.Revoke(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	require.Len(t, q.queued, 2)
	require.Equal(t, "order:10:cancelled-by-revoke", q.queued[0].DedupeKey)
	require.Equal(t, models.NotificationTypeStatusUpdate, q.queued[0].Type)
}

func TestCanShip(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, nil)
	ctx := context.Background()

	// Заказ без рецепта отгружается свободно.
	require.NoError(t, s.CanShip(ctx, nil))

	p, err := s.Upload(ctx, models.PrescriptionCreateInput{UserID: 5})
	require.NoError(t, err)

	err = s.CanShip(ctx, &p.ID)
	require.ErrorIs(t, err, models.ErrPrescriptionNotVerified)

	_, err = s.Verify(ctx, p.ID, 42)
	require.NoError(t, err)
	require.NoError(t, s.CanShip(ctx, &p.ID))

	_, err = s.Revoke(ctx, p.ID)
	require.NoError(t, err)
	err = s.CanShip(ctx, &p.ID)
	require.ErrorIs(t, err, models.ErrPrescriptionNotVerified)
}
