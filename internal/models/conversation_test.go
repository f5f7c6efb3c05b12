package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func presented(n int) []PresentedSlot {
	out := make([]PresentedSlot, n)
	base := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = PresentedSlot{
			Index:     i + 1,
			SlotID:    uuid.New(),
			StartTime: base.Add(time.Duration(i) * time.Hour),
			Display:   fmt.Sprintf("slot %d", i+1),
		}
	}
	return out
}

func TestContextRoundTripPerState(t *testing.T) {
	slots := presented(2)
	appt := uuid.New()

	flows := []Flow{
		Idle{},
		ShowingSlots{Presented: slots, RetryCount: 2},
		ConfirmingBooking{Presented: slots, SelectedSlotID: slots[0].SlotID},
		ConfirmingCancel{PendingAppointmentID: appt},
		RescheduleShowSlots{OriginalAppointmentID: appt, Presented: slots, RetryCount: 1},
		ConfirmingReschedule{OriginalAppointmentID: appt, Presented: slots, SelectedSlotID: slots[1].SlotID},
		AwaitingInfo{RetryCount: 1},
	}

	for _, flow := range flows {
		t.Run(string(flow.State()), func(t *testing.T) {
			cc := ConversationContext{
				Flow:       flow,
				History:    []Turn{{Role: "user", Content: "hi"}},
				LastIntent: "BOOK",
			}
			raw, err := cc.Encode()
			require.NoError(t, err)

			decoded, err := DecodeContext(flow.State(), raw)
			require.NoError(t, err)
			assert.Equal(t, flow, decoded.Flow)
			assert.Equal(t, cc.History, decoded.History)
			assert.Equal(t, "BOOK", decoded.LastIntent)
		})
	}
}

func TestEncodeRejectsIncompleteFlow(t *testing.T) {
	_, err := ConversationContext{Flow: ShowingSlots{}}.Encode()
	assert.Error(t, err)

	_, err = ConversationContext{Flow: ConfirmingCancel{}}.Encode()
	assert.Error(t, err)
}

func TestDecodeEmptyContextIsIdle(t *testing.T) {
	cc, err := DecodeContext(StateIdle, datatypes.JSON("{}"))
	require.NoError(t, err)
	assert.Equal(t, Idle{}, cc.Flow)

	cc, err = DecodeContext(StateIdle, nil)
	require.NoError(t, err)
	assert.Equal(t, Idle{}, cc.Flow)
}

func TestDecodeMismatchedStateFallsBackToIdle(t *testing.T) {
	raw, err := ConversationContext{Flow: ShowingSlots{Presented: presented(1)}}.Encode()
	require.NoError(t, err)

	cc, err := DecodeContext(StateConfirmingCancel, raw)
	assert.ErrorIs(t, err, ErrContextMismatch)
	assert.Equal(t, Idle{}, cc.Flow)

	cc, err = DecodeContext(StateShowingSlots, datatypes.JSON("{}"))
	assert.ErrorIs(t, err, ErrContextMismatch)
	assert.Equal(t, Idle{}, cc.Flow)
}

func TestDecodeCorruptContext(t *testing.T) {
	cc, err := DecodeContext(StateShowingSlots, datatypes.JSON(`{"state":`))
	assert.Error(t, err)
	assert.Equal(t, Idle{}, cc.Flow)
}

func TestAppendHistoryCapsEntries(t *testing.T) {
	var history []Turn
	for i := 0; i < 8; i++ {
		history = AppendHistory(history, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	require.Len(t, history, MaxHistoryEntries)
	assert.Equal(t, "u3", history[0].Content)
	assert.Equal(t, "a7", history[len(history)-1].Content)
}

func TestApplySetsExpiryOnlyWhenActive(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	state := &ConversationState{}

	require.NoError(t, state.Apply(ConversationContext{Flow: ShowingSlots{Presented: presented(1)}}, now))
	assert.Equal(t, StateShowingSlots, state.CurrentState)
	require.NotNil(t, state.ExpiresAt)
	assert.Equal(t, now.Add(2*time.Hour), *state.ExpiresAt)

	require.NoError(t, state.Apply(ConversationContext{Flow: Idle{}}, now))
	assert.Equal(t, StateIdle, state.CurrentState)
	assert.Nil(t, state.ExpiresAt)
	assert.Equal(t, now, *state.LastMessageAt)
}
