package services

import (
	"context"
	"strings"
	"unicode"
)

// heuristicConfidence sits above ConfidenceThreshold so keyword hits are trusted
const heuristicConfidence = 0.7

var (
	affirmativeWords = wordSet("yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "correct")
	negativeWords    = wordSet("no", "n", "nope", "nah", "wrong")
	bookWords        = wordSet("book", "schedule", "appointment", "available", "openings")
	cancelWords      = wordSet("cancel")
	rescheduleWords  = wordSet("reschedule", "move", "change")
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// HeuristicClassifier is the deterministic keyword classifier used when the
// model is unavailable. It never fails.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (h *HeuristicClassifier) DetectIntent(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
	return h.Classify(req.Message), nil
}

// Classify labels a message from word lists. A leading yes/no word wins so
// "yes cancel it" confirms a pending cancellation.
func (h *HeuristicClassifier) Classify(message string) IntentResult {
	text := strings.ToLower(strings.TrimSpace(message))
	words := tokenize(text)

	result := func(intent Intent, reply string) IntentResult {
		return IntentResult{
			Intent:        intent,
			Confidence:    heuristicConfidence,
			ExtractedData: map[string]any{},
			ResponseText:  reply,
		}
	}

	if len(words) > 0 {
		switch {
		case affirmativeWords[words[0]]:
			return result(IntentConfirm, "")
		case negativeWords[words[0]]:
			return result(IntentDeny, "")
		}
	}
	if containsAny(words, cancelWords) {
		return result(IntentCancel, "")
	}
	if containsAny(words, rescheduleWords) {
		return result(IntentReschedule, "")
	}
	if containsAny(words, bookWords) {
		return result(IntentBook, "")
	}
	if strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		return result(IntentSelectSlot, "")
	}
	if strings.Contains(text, "?") {
		return result(IntentQuestion, "I can help you book, reschedule, or cancel an appointment. What would you like to do?")
	}
	return IntentResult{
		Intent:        IntentUnclear,
		Confidence:    heuristicConfidence,
		ExtractedData: map[string]any{},
		ResponseText:  ClarifyText,
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}
