package services

import (
	"context"
	"errors"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

// getOrCreateContact returns the contact for phone, creating a pending one on
// first touch. A concurrent create for the same phone is resolved by re-reading.
func getOrCreateContact(ctx context.Context, store storage.Store, phone string) (*models.Contact, error) {
	contact, err := store.GetContactByPhone(ctx, phone)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	contact = &models.Contact{
		PhoneNumber: phone,
		Timezone:    models.DefaultTimezone,
		OptInStatus: models.OptInStatusPending,
	}
	if err := store.CreateContact(ctx, contact); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return store.GetContactByPhone(ctx, phone)
		}
		return nil, err
	}
	return contact, nil
}
