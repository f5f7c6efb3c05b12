package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
)

var (
	indexPattern = regexp.MustCompile(`\b(\d+)\b`)
	ordinalWords = []string{"first", "second", "third", "fourth", "fifth"}
)

// SlotResolver resolves a reply to one of the presented slots. Deterministic
// rules run first; the selector is consulted only when they are inconclusive.
type SlotResolver struct {
	selector SlotSelector
}

func NewSlotResolver(selector SlotSelector) *SlotResolver {
	return &SlotResolver{selector: selector}
}

// Resolve returns the chosen slot id, or false when the reply is ambiguous
func (r *SlotResolver) Resolve(ctx context.Context, message string, presented []models.PresentedSlot, loc *time.Location) (uuid.UUID, bool) {
	if len(presented) == 0 {
		return uuid.Nil, false
	}
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return uuid.Nil, false
	}

	if id, ok := matchIndex(normalized, presented); ok {
		return id, true
	}
	if id, ok := matchOrdinal(normalized, presented); ok {
		return id, true
	}
	if id, ok := matchTimeOrDay(normalized, presented, loc); ok {
		return id, true
	}

	if r.selector == nil {
		return uuid.Nil, false
	}
	id, ok, err := r.selector.ParseSlotSelection(ctx, message, presented)
	if err != nil || !ok {
		return uuid.Nil, false
	}
	return id, true
}

func matchIndex(normalized string, presented []models.PresentedSlot) (uuid.UUID, bool) {
	m := indexPattern.FindStringSubmatch(normalized)
	if m == nil {
		return uuid.Nil, false
	}
	choice, err := strconv.Atoi(m[1])
	if err != nil || choice < 1 || choice > len(presented) {
		return uuid.Nil, false
	}
	return presented[choice-1].SlotID, true
}

func matchOrdinal(normalized string, presented []models.PresentedSlot) (uuid.UUID, bool) {
	for i, word := range ordinalWords {
		if i < len(presented) && strings.Contains(normalized, word) {
			return presented[i].SlotID, true
		}
	}
	return uuid.Nil, false
}

// matchTimeOrDay accepts a unique match on a time token (3pm, 3:30pm, 15:30)
// or, failing that, a unique match on a weekday name.
func matchTimeOrDay(normalized string, presented []models.PresentedSlot, loc *time.Location) (uuid.UUID, bool) {
	if loc == nil {
		loc = time.UTC
	}
	compact := strings.ReplaceAll(normalized, " ", "")

	var timeMatches, dayMatches []uuid.UUID
	for _, p := range presented {
		local := p.StartTime.In(loc)
		timeTokens := []string{
			strings.ToLower(local.Format("3PM")),
			strings.ToLower(local.Format("3:04PM")),
			local.Format("15:04"),
		}
		dayTokens := []string{
			strings.ToLower(local.Format("Monday")),
			strings.ToLower(local.Format("Mon")),
		}
		for _, tok := range timeTokens {
			if strings.Contains(compact, tok) {
				timeMatches = append(timeMatches, p.SlotID)
				break
			}
		}
		for _, tok := range dayTokens {
			if strings.Contains(normalized, tok) {
				dayMatches = append(dayMatches, p.SlotID)
				break
			}
		}
	}

	if len(timeMatches) == 1 {
		return timeMatches[0], true
	}
	if len(dayMatches) == 1 {
		return dayMatches[0], true
	}
	return uuid.Nil, false
}
