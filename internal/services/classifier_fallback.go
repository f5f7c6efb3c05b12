package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
)

// FallbackClassifier calls the primary classifier under a timeout and falls
// back to the heuristic classifier on any error. Results below
// ConfidenceThreshold are forced to UNCLEAR.
type FallbackClassifier struct {
	primary   IntentClassifier
	heuristic *HeuristicClassifier
	timeout   time.Duration
	log       *slog.Logger
}

// NewFallbackClassifier wraps primary; a nil primary means heuristic only
func NewFallbackClassifier(primary IntentClassifier, timeout time.Duration, logger *slog.Logger) *FallbackClassifier {
	return &FallbackClassifier{
		primary:   primary,
		heuristic: NewHeuristicClassifier(),
		timeout:   timeout,
		log:       logger,
	}
}

func (f *FallbackClassifier) DetectIntent(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
	result := f.detect(ctx, req)
	if !result.Intent.Valid() {
		result.Intent = IntentUnclear
	}
	if result.Confidence < ConfidenceThreshold {
		result.Intent = IntentUnclear
		result.ResponseText = ClarifyText
	}
	if result.ResponseText == "" && result.Intent == IntentUnclear {
		result.ResponseText = ClarifyText
	}
	return result, nil
}

func (f *FallbackClassifier) detect(ctx context.Context, req ClassifyRequest) IntentResult {
	if f.primary == nil {
		return f.heuristic.Classify(req.Message)
	}

	callCtx, cancel := f.withTimeout(ctx)
	defer cancel()

	result, err := f.primary.DetectIntent(callCtx, req)
	if err != nil {
		f.log.Warn("ai_detect_intent_failed", "error", err, "state", req.State)
		return f.heuristic.Classify(req.Message)
	}
	return result
}

// ParseSlotSelection delegates to the primary classifier when it can select
// slots. Errors are logged and treated as no selection.
func (f *FallbackClassifier) ParseSlotSelection(ctx context.Context, message string, presented []models.PresentedSlot) (uuid.UUID, bool, error) {
	selector, ok := f.primary.(SlotSelector)
	if !ok || selector == nil {
		return uuid.Nil, false, nil
	}

	callCtx, cancel := f.withTimeout(ctx)
	defer cancel()

	id, found, err := selector.ParseSlotSelection(callCtx, message, presented)
	if err != nil {
		f.log.Warn("ai_parse_slot_selection_failed", "error", err)
		return uuid.Nil, false, nil
	}
	return id, found, nil
}

func (f *FallbackClassifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}
