package refills

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	byID map[int64]*models.RefillRequest
}

func (f *fakeRepo) CreateRefillRequest(ctx context.Context, in models.RefillRequestCreateInput) (*models.RefillRequest, error) {
	if f.byID == nil {
		f.byID = map[int64]*models.RefillRequest{}
	}
	r := &models.RefillRequest{
		ID:                int64(len(f.byID) + 1),
		UserID:            in.UserID,
		MedicationID:      in.MedicationID,
		Status:            models.RefillStatusPending,
		Quantity:          in.Quantity,
		RefillsAuthorized: in.RefillsAuthorized,
		RefillsRemaining:  in.RefillsAuthorized,
		AutoRefill:        in.AutoRefill,
		NextRefillAt:      in.NextRefillAt,
	}
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeRepo) GetRefillRequest(ctx context.Context, id int64) (*models.RefillRequest, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) SetRefillStatus(ctx context.Context, id int64, from, to string) (*models.RefillRequest, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != from {
		if r.Status == to {
			cp := *r
			return &cp, nil
		}
		return nil, models.ErrInvalidTransition
	}
	r.Status = to
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) SetAutoRefill(ctx context.Context, id int64, enabled bool) (*models.RefillRequest, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if enabled && r.RefillsRemaining <= 0 {
		return nil, models.ErrInvalidTransition
	}
	r.AutoRefill = enabled
	cp := *r
	return &cp, nil
}

func TestService_CreateValidation(t *testing.T) {
	s := NewService(&fakeRepo{})
	ctx := context.Background()

	cases := []models.RefillRequestCreateInput{
		{MedicationID: 1, Quantity: 1, RefillsAuthorized: 1},
		{UserID: 1, Quantity: 1, RefillsAuthorized: 1},
		{UserID: 1, MedicationID: 1, RefillsAuthorized: 1},
		{UserID: 1, MedicationID: 1, Quantity: 1},
	}
	for _, in := range cases {
		_, err := s.Create(ctx, in)
		require.ErrorIs(t, err, models.ErrValidation)
	}

	r, err := s.Create(ctx, models.RefillRequestCreateInput{
		UserID: 1, MedicationID: 1, Quantity: 1, RefillsAuthorized: 3,
	})
	require.NoError(t, err)
	require.Equal(t, models.RefillStatusPending, r.Status)
	require.False(t, r.NextRefillAt.IsZero())
}

func TestService_ApproveDecline(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo)
	ctx := context.Background()

	r, err := s.Create(ctx, models.RefillRequestCreateInput{
		UserID: 1, MedicationID: 1, Quantity: 1, RefillsAuthorized: 3,
		NextRefillAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := s.Approve(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RefillStatusApproved, got.Status)

	// повторный approve идемпотентен
	got, err = s.Approve(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RefillStatusApproved, got.Status)

	// approved нельзя перевести в declined
	_, err = s.Decline(ctx, r.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestService_ToggleAutoRefill(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo)
	ctx := context.Background()

	r, err := s.Create(ctx, models.RefillRequestCreateInput{
		UserID: 1, MedicationID: 1, Quantity: 1, RefillsAuthorized: 1,
	})
	require.NoError(t, err)

	got, err := s.ToggleAutoRefill(ctx, r.ID, true)
	require.NoError(t, err)
	require.True(t, got.AutoRefill)

	repo.byID[r.ID].RefillsRemaining = 0
	repo.byID[r.ID].AutoRefill = false
	_, err = s.ToggleAutoRefill(ctx, r.ID, true)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	// выключать можно всегда
	got, err = s.ToggleAutoRefill(ctx, r.ID, false)
	require.NoError(t, err)
	require.False(t, got.AutoRefill)
}
