package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotUnavailable means the slot was claimed by someone else. Callers
	// recover by offering fresh alternatives.
	ErrSlotUnavailable = errors.New("slot is no longer available")

	// ErrAppointmentNotFound and ErrSlotNotFound indicate an integrity problem
	// and abort the current flow.
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotNotFound        = errors.New("slot not found")

	ErrAppointmentNotActive = errors.New("appointment is not confirmed")
	ErrContactOptedOut      = errors.New("contact has opted out")
	ErrInvalidPhoneNumber   = errors.New("invalid phone number")
	ErrLockHeld             = errors.New("contact lock is held by another message")
)

// ProviderError wraps a failure returned by the SMS provider
type ProviderError struct {
	Status int
	Code   int
	Err    error
}

// Terminal provider codes: invalid destination number and unsubscribed recipient.
var terminalProviderCodes = map[int]bool{
	21211: true,
	21610: true,
}

var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sms provider error (status %d, code %d): %v", e.Status, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the send may succeed if attempted again
func (e *ProviderError) Retryable() bool {
	if terminalProviderCodes[e.Code] {
		return false
	}
	return e.Status == 0 || retryableStatuses[e.Status]
}

// Terminal reports whether the error can never succeed for this recipient
func (e *ProviderError) Terminal() bool {
	return terminalProviderCodes[e.Code]
}

// ErrDuplicateMessage is returned when an inbound provider message id was already recorded
var ErrDuplicateMessage = errors.New("inbound message already recorded")
