package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store backend must share.
// Data is scoped by a fresh provider id and phone numbers so it can run
// against a non-empty database.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	provider := uuid.New()
	base := time.Now().UTC().Add(24 * 365 * time.Hour).Truncate(time.Hour)

	newSlot := func(t *testing.T, offset time.Duration) *models.Slot {
		slot := &models.Slot{
			ProviderID:  &provider,
			StartTime:   base.Add(offset),
			EndTime:     base.Add(offset + 30*time.Minute),
			IsAvailable: true,
		}
		require.NoError(t, store.CreateSlot(ctx, slot))
		return slot
	}
	newContact := func(t *testing.T) *models.Contact {
		c := &models.Contact{PhoneNumber: fmt.Sprintf("+1%010d", uuid.New().ID())}
		require.NoError(t, store.CreateContact(ctx, c))
		return c
	}

	t.Run("contact phone is unique", func(t *testing.T) {
		c := newContact(t)
		assert.Equal(t, models.OptInStatusPending, c.OptInStatus)
		assert.Equal(t, models.DefaultTimezone, c.Timezone)

		err := store.CreateContact(ctx, &models.Contact{PhoneNumber: c.PhoneNumber})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := store.GetContactByPhone(ctx, c.PhoneNumber)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
	})

	t.Run("missing rows map to ErrNotFound", func(t *testing.T) {
		_, err := store.GetSlot(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetAppointment(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetConversationState(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("available slots filter and order", func(t *testing.T) {
		later := newSlot(t, 2*time.Hour)
		earlier := newSlot(t, time.Hour)
		taken := newSlot(t, 90*time.Minute)
		taken.IsAvailable = false
		require.NoError(t, store.WithTx(ctx, func(tx Tx) error { return tx.SaveSlot(taken) }))

		slots, err := store.FindAvailableSlots(ctx, models.SlotQuery{
			From:       base,
			To:         base.Add(4 * time.Hour),
			ProviderID: &provider,
			Exclude:    []uuid.UUID{later.ID},
			Limit:      5,
		})
		require.NoError(t, err)
		require.NotEmpty(t, slots)
		assert.Equal(t, earlier.ID, slots[0].ID)
		for _, s := range slots {
			assert.NotEqual(t, later.ID, s.ID)
			assert.NotEqual(t, taken.ID, s.ID)
		}

		exists, err := store.SlotExists(ctx, earlier.StartTime, &provider)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		slot := newSlot(t, 5*time.Hour)
		contact := newContact(t)
		boom := errors.New("boom")

		err := store.WithTx(ctx, func(tx Tx) error {
			locked, err := tx.LockSlot(slot.ID)
			if err != nil {
				return err
			}
			locked.IsAvailable = false
			if err := tx.SaveSlot(locked); err != nil {
				return err
			}
			if err := tx.CreateAppointment(&models.Appointment{
				ContactID: contact.ID,
				SlotID:    slot.ID,
				Status:    models.AppointmentStatusConfirmed,
				BookedAt:  time.Now(),
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.GetSlot(ctx, slot.ID)
		require.NoError(t, err)
		assert.True(t, got.IsAvailable)
		appts, err := store.GetConfirmedAppointmentsBySlot(ctx, slot.ID)
		require.NoError(t, err)
		assert.Empty(t, appts)
	})

	t.Run("one confirmed appointment per slot", func(t *testing.T) {
		slot := newSlot(t, 6*time.Hour)
		contact := newContact(t)
		create := func() error {
			return store.WithTx(ctx, func(tx Tx) error {
				return tx.CreateAppointment(&models.Appointment{
					ContactID: contact.ID,
					SlotID:    slot.ID,
					Status:    models.AppointmentStatusConfirmed,
					BookedAt:  time.Now(),
				})
			})
		}
		require.NoError(t, create())
		assert.ErrorIs(t, create(), ErrConflict)

		latest, err := store.GetLatestConfirmedAppointment(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, slot.ID, latest.SlotID)
	})

	t.Run("conversation upsert and expiry sweep", func(t *testing.T) {
		contact := newContact(t)
		now := time.Now().UTC()

		state := &models.ConversationState{ContactID: contact.ID}
		require.NoError(t, state.Apply(models.ConversationContext{
			Flow: models.ConfirmingCancel{PendingAppointmentID: uuid.New()},
		}, now.Add(-3*time.Hour)))
		require.NoError(t, store.SaveConversationState(ctx, state))

		again := &models.ConversationState{ContactID: contact.ID}
		require.NoError(t, again.Apply(models.ConversationContext{
			Flow: models.ConfirmingCancel{PendingAppointmentID: uuid.New()},
		}, now.Add(-3*time.Hour)))
		require.NoError(t, store.SaveConversationState(ctx, again))

		n, err := store.ResetExpiredConversations(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := store.GetConversationState(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateIdle, got.CurrentState)
		assert.Nil(t, got.ExpiresAt)
		assert.JSONEq(t, "{}", string(got.Context))
	})

	t.Run("messages", func(t *testing.T) {
		sid := "SM" + uuid.NewString()
		apptID := uuid.New()
		msg := &models.Message{
			Direction:         models.DirectionOutbound,
			Kind:              models.MessageKindReminder,
			Body:              "reminder",
			ProviderMessageID: &sid,
			Status:            models.MessageStatusFailed,
			AppointmentID:     &apptID,
		}
		require.NoError(t, store.CreateMessage(ctx, msg))

		got, err := store.GetMessageByProviderID(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)

		has, err := store.HasMessageForAppointment(ctx, apptID, models.MessageKindReminder)
		require.NoError(t, err)
		assert.True(t, has)

		retryable, err := store.GetRetryableMessages(ctx, 3, 1000)
		require.NoError(t, err)
		assert.Contains(t, messageIDs(retryable), msg.ID)

		msg.Terminal = true
		require.NoError(t, store.UpdateMessage(ctx, msg))
		retryable, err = store.GetRetryableMessages(ctx, 3, 1000)
		require.NoError(t, err)
		assert.NotContains(t, messageIDs(retryable), msg.ID)
	})

	t.Run("campaign recipients and stats", func(t *testing.T) {
		a, b := newContact(t), newContact(t)
		campaign := &models.Campaign{Name: "spring", MessageTemplate: "Hi {first_name}", Status: models.CampaignStatusDraft}
		recipients := []*models.CampaignRecipient{
			{ContactID: a.ID, Status: models.RecipientStatusPending},
			{ContactID: b.ID, Status: models.RecipientStatusPending},
		}
		require.NoError(t, store.CreateCampaign(ctx, campaign, recipients))
		assert.Equal(t, 2, campaign.TotalRecipients)

		now := time.Now()
		due, err := store.GetDueRecipients(ctx, campaign.ID, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)

		later := now.Add(time.Hour)
		due[0].NextAttemptAt = &later
		require.NoError(t, store.UpdateRecipient(ctx, due[0]))
		due[1].Status = models.RecipientStatusSent
		require.NoError(t, store.UpdateRecipient(ctx, due[1]))

		remaining, err := store.GetDueRecipients(ctx, campaign.ID, now, 10)
		require.NoError(t, err)
		assert.Empty(t, remaining)

		stats, err := store.GetCampaignStats(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalRecipients)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.Sent)
	})
}

func messageIDs(msgs []*models.Message) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
