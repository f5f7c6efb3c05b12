package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
)

const (
	historyTokenBudget = 2000
	maxContextSlots    = 10
)

// LLMClassifier classifies intents through a chat model with forced tool calls
type LLMClassifier struct {
	client       ChatClient
	model        string
	businessName string
	now          func() time.Time
}

// NewLLMClassifier creates a classifier backed by client
func NewLLMClassifier(client ChatClient, model, businessName string) *LLMClassifier {
	return &LLMClassifier{
		client:       client,
		model:        model,
		businessName: businessName,
		now:          time.Now,
	}
}

var submitIntentTool = Tool{
	Type: "function",
	Function: ToolFunction{
		Name:        "submit_intent",
		Description: "Return structured intent result.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent":         map[string]any{"type": "string", "enum": Intents},
				"confidence":     map[string]any{"type": "number"},
				"extracted_data": map[string]any{"type": "object"},
				"response_text":  map[string]any{"type": "string"},
				"needs_info": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"intent", "confidence", "extracted_data", "response_text", "needs_info"},
		},
	},
}

var selectSlotTool = Tool{
	Type: "function",
	Function: ToolFunction{
		Name: "select_slot",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"slot_id": map[string]any{"type": []string{"string", "null"}},
			},
			"required": []string{"slot_id"},
		},
	},
}

func (c *LLMClassifier) DetectIntent(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	state := req.State
	if state == "" {
		state = models.StateIdle
	}

	system := fmt.Sprintf(
		"You are a friendly SMS scheduling assistant for %s. "+
			"Keep responses concise under 320 chars when possible and max 480 chars. "+
			"Current datetime: %s (%s). Conversation state: %s. %s"+
			"Use the tool to return structured output.",
		c.businessName, c.now().UTC().Format(time.RFC3339), tz, state, slotContext(req.PresentedSlots),
	)

	messages := []ChatMessage{{Role: "system", Content: system}}
	messages = append(messages, PrepareHistory(req.History)...)
	messages = append(messages, ChatMessage{Role: "user", Content: req.Message})

	resp, err := c.client.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       []Tool{submitIntentTool},
		ToolChoice:  forcedTool(submitIntentTool.Function.Name),
		Temperature: 0.2,
	})
	if err != nil {
		return IntentResult{}, err
	}
	return parseIntentResponse(resp)
}

func parseIntentResponse(resp *ChatCompletionResponse) (IntentResult, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return IntentResult{}, errors.New("no choices in response")
	}
	msg := resp.Choices[0].Message
	raw := msg.Content
	if len(msg.ToolCalls) > 0 {
		raw = msg.ToolCalls[0].Function.Arguments
	}
	if strings.TrimSpace(raw) == "" {
		return IntentResult{}, errors.New("empty intent payload")
	}

	var payload struct {
		Intent        string         `json:"intent"`
		Confidence    float64        `json:"confidence"`
		ExtractedData map[string]any `json:"extracted_data"`
		ResponseText  *string        `json:"response_text"`
		NeedsInfo     []string       `json:"needs_info"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return IntentResult{}, fmt.Errorf("decode intent payload: %w", err)
	}

	intent := Intent(strings.ToUpper(strings.TrimSpace(payload.Intent)))
	if !intent.Valid() {
		intent = IntentUnclear
	}
	text := FallbackText
	if payload.ResponseText != nil {
		text = *payload.ResponseText
	}
	if payload.ExtractedData == nil {
		payload.ExtractedData = map[string]any{}
	}
	return IntentResult{
		Intent:        intent,
		Confidence:    payload.Confidence,
		ExtractedData: payload.ExtractedData,
		ResponseText:  Truncate(text),
		NeedsInfo:     payload.NeedsInfo,
	}, nil
}

// ParseSlotSelection asks the model to map the message onto a presented slot id.
// Ids that were not presented are rejected.
func (c *LLMClassifier) ParseSlotSelection(ctx context.Context, message string, presented []models.PresentedSlot) (uuid.UUID, bool, error) {
	if len(presented) == 0 || strings.TrimSpace(message) == "" {
		return uuid.Nil, false, nil
	}

	type summary struct {
		ID    string `json:"id"`
		Index int    `json:"index"`
		Start string `json:"start"`
	}
	slots := make([]summary, 0, len(presented))
	for _, p := range presented {
		slots = append(slots, summary{ID: p.SlotID.String(), Index: p.Index, Start: p.StartTime.UTC().Format(time.RFC3339)})
	}
	user, err := json.Marshal(map[string]any{"message": message, "presented_slots": slots})
	if err != nil {
		return uuid.Nil, false, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: "Map user selection to a slot id or return null if unclear."},
			{Role: "user", Content: string(user)},
		},
		Tools:       []Tool{selectSlotTool},
		ToolChoice:  forcedTool(selectSlotTool.Function.Name),
		Temperature: 0,
	})
	if err != nil {
		return uuid.Nil, false, err
	}

	if resp == nil || len(resp.Choices) == 0 {
		return uuid.Nil, false, errors.New("no choices in response")
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return uuid.Nil, false, nil
	}
	var args struct {
		SlotID *string `json:"slot_id"`
	}
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil {
		return uuid.Nil, false, fmt.Errorf("decode slot selection: %w", err)
	}
	if args.SlotID == nil {
		return uuid.Nil, false, nil
	}
	for _, p := range presented {
		if p.SlotID.String() == strings.TrimSpace(*args.SlotID) {
			return p.SlotID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

// PrepareHistory keeps the newest entries that fit the token budget (len/4 per entry)
func PrepareHistory(history []models.Turn) []ChatMessage {
	if len(history) > models.MaxHistoryEntries {
		history = history[len(history)-models.MaxHistoryEntries:]
	}
	budget := historyTokenBudget
	kept := make([]ChatMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		cost := len(history[i].Content) / 4
		if cost < 1 {
			cost = 1
		}
		if budget-cost < 0 {
			continue
		}
		budget -= cost
		role := history[i].Role
		if role == "" {
			role = "user"
		}
		kept = append(kept, ChatMessage{Role: role, Content: history[i].Content})
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func slotContext(presented []models.PresentedSlot) string {
	if len(presented) == 0 {
		return ""
	}
	if len(presented) > maxContextSlots {
		presented = presented[:maxContextSlots]
	}
	type entry struct {
		ID        string `json:"id"`
		StartTime string `json:"start_time"`
	}
	slots := make([]entry, 0, len(presented))
	for _, p := range presented {
		slots = append(slots, entry{ID: p.SlotID.String(), StartTime: p.StartTime.UTC().Format(time.RFC3339)})
	}
	raw, err := json.Marshal(map[string]any{"available_slots": slots})
	if err != nil {
		return ""
	}
	return "Context: " + string(raw) + ". "
}
