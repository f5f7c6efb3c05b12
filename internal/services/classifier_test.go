package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
)

type mockChatClient struct {
	requests []ChatCompletionRequest
	Func     func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	m.requests = append(m.requests, req)
	return m.Func(ctx, req)
}

func toolResponse(name, args string) *ChatCompletionResponse {
	resp := &ChatCompletionResponse{}
	resp.Choices = make([]struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	}, 1)
	call := ToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = name
	call.Function.Arguments = args
	resp.Choices[0].Message.ToolCalls = []ToolCall{call}
	return resp
}

func TestHeuristicClassifier(t *testing.T) {
	h := NewHeuristicClassifier()
	cases := []struct {
		message string
		want    Intent
	}{
		{"yes", IntentConfirm},
		{"Yes, cancel it", IntentConfirm},
		{"ok", IntentConfirm},
		{"nope", IntentDeny},
		{"please cancel my appointment", IntentCancel},
		{"can we move it", IntentReschedule},
		{"I want to book", IntentBook},
		{"any openings?", IntentBook},
		{"2", IntentSelectSlot},
		{"what are your hours?", IntentQuestion},
		{"hmm", IntentUnclear},
		{"", IntentUnclear},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			got := h.Classify(tc.message)
			assert.Equal(t, tc.want, got.Intent)
			assert.GreaterOrEqual(t, got.Confidence, ConfidenceThreshold)
		})
	}
}

func TestFallbackClassifierUsesHeuristicsOnError(t *testing.T) {
	primary := &mockClassifier{DetectIntentFunc: func(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
		return IntentResult{}, errors.New("upstream 500")
	}}
	f := NewFallbackClassifier(primary, time.Second, discardLogger())

	got, err := f.DetectIntent(context.Background(), ClassifyRequest{Message: "book please"})
	require.NoError(t, err)
	assert.Equal(t, IntentBook, got.Intent)
	assert.Equal(t, 1, primary.Calls())
}

func TestFallbackClassifierTimesOut(t *testing.T) {
	primary := &mockClassifier{DetectIntentFunc: func(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
		<-ctx.Done()
		return IntentResult{}, ctx.Err()
	}}
	f := NewFallbackClassifier(primary, 10*time.Millisecond, discardLogger())

	start := time.Now()
	got, err := f.DetectIntent(context.Background(), ClassifyRequest{Message: "cancel"})
	require.NoError(t, err)
	assert.Equal(t, IntentCancel, got.Intent)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFallbackClassifierLowConfidenceIsUnclear(t *testing.T) {
	primary := &mockClassifier{DetectIntentFunc: func(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
		return IntentResult{Intent: IntentBook, Confidence: 0.3, ResponseText: "sure"}, nil
	}}
	f := NewFallbackClassifier(primary, time.Second, discardLogger())

	got, err := f.DetectIntent(context.Background(), ClassifyRequest{Message: "eh"})
	require.NoError(t, err)
	assert.Equal(t, IntentUnclear, got.Intent)
	assert.Equal(t, ClarifyText, got.ResponseText)
}

func TestFallbackClassifierWithoutPrimary(t *testing.T) {
	f := NewFallbackClassifier(nil, time.Second, discardLogger())

	got, err := f.DetectIntent(context.Background(), ClassifyRequest{Message: "yes"})
	require.NoError(t, err)
	assert.Equal(t, IntentConfirm, got.Intent)

	_, ok, err := f.ParseSlotSelection(context.Background(), "the early one", []models.PresentedSlot{{Index: 1, SlotID: uuid.New()}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLLMClassifierDetectIntent(t *testing.T) {
	client := &mockChatClient{Func: func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return toolResponse("submit_intent", `{"intent":"reschedule","confidence":0.92,"extracted_data":{},"response_text":"Sure, let's find a new time.","needs_info":[]}`), nil
	}}
	c := NewLLMClassifier(client, "test-model", "Acme Dental")

	history := []models.Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	got, err := c.DetectIntent(context.Background(), ClassifyRequest{
		Message: "can I move my appointment",
		History: history,
		State:   models.StateIdle,
	})
	require.NoError(t, err)
	assert.Equal(t, IntentReschedule, got.Intent)
	assert.InDelta(t, 0.92, got.Confidence, 0.001)
	assert.Equal(t, "Sure, let's find a new time.", got.ResponseText)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Acme Dental")
	assert.Equal(t, "can I move my appointment", req.Messages[3].Content)
	assert.Equal(t, "submit_intent", req.Tools[0].Function.Name)
}

func TestLLMClassifierRejectsUnknownIntent(t *testing.T) {
	client := &mockChatClient{Func: func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return toolResponse("submit_intent", `{"intent":"DANCE","confidence":0.9,"extracted_data":{},"response_text":null,"needs_info":[]}`), nil
	}}
	got, err := NewLLMClassifier(client, "m", "b").DetectIntent(context.Background(), ClassifyRequest{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, IntentUnclear, got.Intent)
	assert.Equal(t, FallbackText, got.ResponseText)
}

func TestLLMClassifierBadPayload(t *testing.T) {
	client := &mockChatClient{Func: func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return toolResponse("submit_intent", `not json`), nil
	}}
	_, err := NewLLMClassifier(client, "m", "b").DetectIntent(context.Background(), ClassifyRequest{Message: "x"})
	assert.Error(t, err)

	empty := &mockChatClient{Func: func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return &ChatCompletionResponse{}, nil
	}}
	_, err = NewLLMClassifier(empty, "m", "b").DetectIntent(context.Background(), ClassifyRequest{Message: "x"})
	assert.Error(t, err)
}

func TestLLMParseSlotSelectionOnlyAcceptsPresented(t *testing.T) {
	presented := []models.PresentedSlot{{Index: 1, SlotID: uuid.New()}, {Index: 2, SlotID: uuid.New()}}

	answer := presented[1].SlotID.String()
	client := &mockChatClient{Func: func(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
		return toolResponse("select_slot", `{"slot_id":"`+answer+`"}`), nil
	}}
	c := NewLLMClassifier(client, "m", "b")

	id, ok, err := c.ParseSlotSelection(context.Background(), "the later one", presented)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, presented[1].SlotID, id)

	answer = uuid.NewString()
	_, ok, err = c.ParseSlotSelection(context.Background(), "the later one", presented)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrepareHistoryRespectsBudget(t *testing.T) {
	long := strings.Repeat("x", 4000) // 1000 tokens
	history := []models.Turn{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: long},
		{Role: "assistant", Content: "short"},
	}
	got := PrepareHistory(history)
	require.Len(t, got, 2)
	assert.Equal(t, long, got[0].Content)
	assert.Equal(t, "short", got[1].Content)
}

func TestSlotResolver(t *testing.T) {
	base := time.Date(2030, time.January, 7, 15, 0, 0, 0, time.UTC) // Monday 3pm
	presented := []models.PresentedSlot{
		{Index: 1, SlotID: uuid.New(), StartTime: base},
		{Index: 2, SlotID: uuid.New(), StartTime: base.Add(time.Hour)},
		{Index: 3, SlotID: uuid.New(), StartTime: base.Add(24 * time.Hour)},
	}
	r := NewSlotResolver(nil)
	ctx := context.Background()

	cases := []struct {
		message string
		want    uuid.UUID
		ok      bool
	}{
		{"2", presented[1].SlotID, true},
		{"option 3 please", presented[2].SlotID, true},
		{"the first one", presented[0].SlotID, true},
		{"4pm works", presented[1].SlotID, true},
		{"tuesday", presented[2].SlotID, true},
		{"monday", uuid.Nil, false},
		{"9", uuid.Nil, false},
		{"whenever", uuid.Nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			id, ok := r.Resolve(ctx, tc.message, presented, time.UTC)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestSlotResolverFallsBackToSelector(t *testing.T) {
	presented := []models.PresentedSlot{{Index: 1, SlotID: uuid.New()}, {Index: 2, SlotID: uuid.New()}}
	calls := 0
	r := NewSlotResolver(&mockSelector{ParseFunc: func(ctx context.Context, message string, p []models.PresentedSlot) (uuid.UUID, bool, error) {
		calls++
		return p[1].SlotID, true, nil
	}})

	id, ok := r.Resolve(context.Background(), "1", presented, time.UTC)
	assert.True(t, ok)
	assert.Equal(t, presented[0].SlotID, id)
	assert.Zero(t, calls)

	id, ok = r.Resolve(context.Background(), "the later one", presented, time.UTC)
	assert.True(t, ok)
	assert.Equal(t, presented[1].SlotID, id)
	assert.Equal(t, 1, calls)
}
