package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/tour-booking-core/internal/models"
	"github.com/tourhub/tour-booking-core/internal/services"
)

var invitationRowColumns = []string{
	"id", "tour_detail_plan_id", "guide_id", "invitation_type", "status", "message",
	"rejection_reason", "invited_at", "responded_at", "expires_at", "version", "is_active", "is_deleted",
	"created_at", "updated_at",
}

func TestGuideInvitationRepository_Insert(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("If Absent Writes Row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		inv := models.NewInvitation(uuid.New(), uuid.New(), models.InvitationAutomatic, nil, now, 48*time.Hour)

		mock.ExpectExec(`INSERT INTO tour_guide_invitations (.+) ON CONFLICT \(tour_detail_plan_id, guide_id\) DO NOTHING`).
			WithArgs(inv.ID, inv.TourDetailPlanID, inv.GuideID, "automatic", "pending", nil,
				now, now.Add(48*time.Hour), int64(1), true, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := repo.InsertInvitationIfAbsent(ctx, inv)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("If Absent Skips Existing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		inv := models.NewInvitation(uuid.New(), uuid.New(), models.InvitationAutomatic, nil, now, time.Hour)

		mock.ExpectExec(`INSERT INTO tour_guide_invitations`).WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := repo.InsertInvitationIfAbsent(ctx, inv)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("Manual Duplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		msg := "please"
		inv := models.NewInvitation(uuid.New(), uuid.New(), models.InvitationManual, &msg, now, time.Hour)

		mock.ExpectExec(`INSERT INTO tour_guide_invitations`).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := repo.InsertInvitation(ctx, inv)
		assert.ErrorIs(t, err, services.ErrDuplicateInvitation)
	})

	t.Run("Manual Other Error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		inv := models.NewInvitation(uuid.New(), uuid.New(), models.InvitationManual, nil, now, time.Hour)

		mock.ExpectExec(`INSERT INTO tour_guide_invitations`).WillReturnError(errors.New("timeout"))

		err := repo.InsertInvitation(ctx, inv)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, services.ErrDuplicateInvitation))
	})
}

func TestGuideInvitationRepository_GetAndList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	planID := uuid.New()

	db, mock := newMockDB(t)
	repo := NewGuideInvitationRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM tour_guide_invitations WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(invitationRowColumns).AddRow(
			id.String(), planID.String(), uuid.NewString(), "manual", "pending", "join us",
			nil, now, nil, now.Add(time.Hour), int64(1), true, false, now, now,
		))

	inv, err := repo.GetInvitationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationManual, inv.Type)
	require.NotNil(t, inv.Message)
	assert.Equal(t, "join us", *inv.Message)
	assert.False(t, inv.IsExpiredAt(now))

	mock.ExpectQuery(`SELECT (.+) FROM tour_guide_invitations\s+WHERE tour_detail_plan_id = \$1`).
		WithArgs(planID).
		WillReturnRows(sqlmock.NewRows(invitationRowColumns).
			AddRow(uuid.NewString(), planID.String(), uuid.NewString(), "automatic", "accepted",
				nil, nil, now, now, now.Add(time.Hour), int64(2), true, false, now, now).
			AddRow(uuid.NewString(), planID.String(), uuid.NewString(), "automatic", "rejected",
				nil, models.SiblingAcceptedReason, now, now, now.Add(time.Hour), int64(2), true, false, now, now))

	all, err := repo.ListInvitationsByPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.InvitationAccepted, all[0].Status)
	require.NotNil(t, all[1].RejectionReason)
	assert.Equal(t, models.SiblingAcceptedReason, *all[1].RejectionReason)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuideInvitationRepository_CloseInvitation(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	t.Run("Expire", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		id := uuid.New()

		mock.ExpectExec(`UPDATE tour_guide_invitations\s+SET status = \$1`).
			WithArgs("expired", nil, nil, at, id, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.CloseInvitation(ctx, &models.InvitationRejection{
			InvitationID: id, ToStatus: models.InvitationExpired, ExpectedVersion: 1, At: at,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already Answered", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)

		mock.ExpectExec(`UPDATE tour_guide_invitations`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.CloseInvitation(ctx, &models.InvitationRejection{
			InvitationID: uuid.New(), ToStatus: models.InvitationRejected, ExpectedVersion: 1, At: at,
		})
		assert.ErrorIs(t, err, services.ErrConcurrencyConflict)
	})
}

func TestGuideInvitationRepository_AcceptInvitation(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	acceptance := func() *models.InvitationAcceptance {
		return &models.InvitationAcceptance{
			InvitationID:    uuid.New(),
			PlanID:          uuid.New(),
			GuideID:         uuid.New(),
			ExpectedVersion: 1,
			At:              at,
			SiblingReason:   models.SiblingAcceptedReason,
		}
	}

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		a := acceptance()
		opID := uuid.New()
		sibA, sibB := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, guide_id FROM tour_operations WHERE tour_detail_plan_id = \$1 AND is_deleted = FALSE FOR UPDATE`).
			WithArgs(a.PlanID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "guide_id"}).AddRow(opID.String(), nil))
		mock.ExpectExec(`UPDATE tour_guide_invitations SET status = 'accepted'(.+)expires_at > \$1`).
			WithArgs(at, a.InvitationID, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE tour_guide_invitations SET status = 'rejected'(.+)RETURNING id`).
			WithArgs(models.SiblingAcceptedReason, at, a.PlanID, a.InvitationID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(sibA.String()).AddRow(sibB.String()))
		mock.ExpectExec(`UPDATE tour_operations SET guide_id = \$1(.+)guide_id IS NULL`).
			WithArgs(a.GuideID, at, opID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		closed, err := repo.AcceptInvitation(ctx, a)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{sibA, sibB}, closed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Plan Already Staffed", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		a := acceptance()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, guide_id FROM tour_operations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "guide_id"}).AddRow(uuid.NewString(), uuid.NewString()))
		mock.ExpectRollback()

		_, err := repo.AcceptInvitation(ctx, a)
		assert.ErrorIs(t, err, services.ErrPlanAlreadyStaffed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invitation Moved Or Expired", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewGuideInvitationRepository(db)
		a := acceptance()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, guide_id FROM tour_operations`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "guide_id"}).AddRow(uuid.NewString(), nil))
		mock.ExpectExec(`UPDATE tour_guide_invitations SET status = 'accepted'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.AcceptInvitation(ctx, a)
		assert.ErrorIs(t, err, services.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
