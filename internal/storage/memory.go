package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemoryStore holds all data in memory for local runs and tests.
// A single RWMutex guards every map: WithTx holds the write lock for the whole
// transaction, so readers never observe a half-applied booking.
type MemoryStore struct {
	mu sync.RWMutex

	contacts      map[uuid.UUID]*models.Contact
	slots         map[uuid.UUID]*models.Slot
	appointments  map[uuid.UUID]*models.Appointment
	conversations map[uuid.UUID]*models.ConversationState // keyed by contact id
	messages      map[uuid.UUID]*models.Message
	campaigns     map[uuid.UUID]*models.Campaign
	recipients    map[uuid.UUID]*models.CampaignRecipient

	now func() time.Time
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:      make(map[uuid.UUID]*models.Contact),
		slots:         make(map[uuid.UUID]*models.Slot),
		appointments:  make(map[uuid.UUID]*models.Appointment),
		conversations: make(map[uuid.UUID]*models.ConversationState),
		messages:      make(map[uuid.UUID]*models.Message),
		campaigns:     make(map[uuid.UUID]*models.Campaign),
		recipients:    make(map[uuid.UUID]*models.CampaignRecipient),
		now:           time.Now,
	}
}

func cloneOf[T any](v *T) *T {
	cp := *v
	return &cp
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Contact operations
func (m *MemoryStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.contacts {
		if c.PhoneNumber == contact.PhoneNumber {
			return fmt.Errorf("contact %s: %w", contact.PhoneNumber, ErrConflict)
		}
	}
	_ = contact.BeforeCreate(nil)
	now := m.now()
	contact.CreatedAt, contact.UpdatedAt = now, now
	m.contacts[contact.ID] = cloneOf(contact)
	return nil
}

func (m *MemoryStore) GetContact(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return cloneOf(c), nil
}

func (m *MemoryStore) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.contacts {
		if c.PhoneNumber == phone {
			return cloneOf(c), nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", phone, ErrNotFound)
}

func (m *MemoryStore) UpdateContact(ctx context.Context, contact *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contacts[contact.ID]; !ok {
		return fmt.Errorf("contact %s: %w", contact.ID, ErrNotFound)
	}
	contact.UpdatedAt = m.now()
	m.contacts[contact.ID] = cloneOf(contact)
	return nil
}

func (m *MemoryStore) GetOptedInContacts(ctx context.Context) ([]*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Contact
	for _, c := range m.contacts {
		if c.OptInStatus == models.OptInStatusOptedIn {
			out = append(out, cloneOf(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Slot operations
func (m *MemoryStore) CreateSlot(ctx context.Context, slot *models.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = slot.BeforeCreate(nil)
	now := m.now()
	slot.CreatedAt, slot.UpdatedAt = now, now
	m.slots[slot.ID] = cloneOf(slot)
	return nil
}

func (m *MemoryStore) GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	return cloneOf(s), nil
}

func (m *MemoryStore) FindAvailableSlots(ctx context.Context, q models.SlotQuery) ([]*models.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Slot
	for _, s := range m.slots {
		if q.Matches(s) {
			out = append(out, cloneOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SlotExists(ctx context.Context, start time.Time, providerID *uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.slots {
		if !s.StartTime.Equal(start) {
			continue
		}
		if (providerID == nil) != (s.ProviderID == nil) {
			continue
		}
		if providerID == nil || *providerID == *s.ProviderID {
			return true, nil
		}
	}
	return false, nil
}

// Appointment operations
func (m *MemoryStore) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return cloneOf(a), nil
}

func (m *MemoryStore) GetLatestConfirmedAppointment(ctx context.Context, contactID uuid.UUID) (*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Appointment
	for _, a := range m.appointments {
		if a.ContactID != contactID || !a.IsActive() {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("confirmed appointment for contact %s: %w", contactID, ErrNotFound)
	}
	return cloneOf(latest), nil
}

func (m *MemoryStore) GetConfirmedAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Appointment
	for _, a := range m.appointments {
		if a.SlotID == slotID && a.IsActive() {
			out = append(out, cloneOf(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetUpcomingAppointments(ctx context.Context, from, to time.Time) ([]*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Appointment
	for _, a := range m.appointments {
		if !a.IsActive() {
			continue
		}
		slot, ok := m.slots[a.SlotID]
		if !ok || slot.StartTime.Before(from) || !slot.StartTime.Before(to) {
			continue
		}
		out = append(out, cloneOf(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// WithTx holds the store's write lock for the duration of fn and applies the
// staged writes only when fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		store:        m,
		slots:        make(map[uuid.UUID]*models.Slot),
		appointments: make(map[uuid.UUID]*models.Appointment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, s := range tx.slots {
		m.slots[id] = s
	}
	for id, a := range tx.appointments {
		m.appointments[id] = a
	}
	return nil
}

// memoryTx stages writes on top of the store's maps
type memoryTx struct {
	store        *MemoryStore
	slots        map[uuid.UUID]*models.Slot
	appointments map[uuid.UUID]*models.Appointment
}

func (t *memoryTx) LockSlot(id uuid.UUID) (*models.Slot, error) {
	if s, ok := t.slots[id]; ok {
		return cloneOf(s), nil
	}
	s, ok := t.store.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	return cloneOf(s), nil
}

func (t *memoryTx) LockAppointment(id uuid.UUID) (*models.Appointment, error) {
	if a, ok := t.appointments[id]; ok {
		return cloneOf(a), nil
	}
	a, ok := t.store.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return cloneOf(a), nil
}

func (t *memoryTx) SaveSlot(slot *models.Slot) error {
	if _, ok := t.store.slots[slot.ID]; !ok {
		return fmt.Errorf("slot %s: %w", slot.ID, ErrNotFound)
	}
	slot.UpdatedAt = t.store.now()
	t.slots[slot.ID] = cloneOf(slot)
	return nil
}

// CreateAppointment enforces the one-confirmed-appointment-per-slot rule the
// database expresses as a partial unique index.
func (t *memoryTx) CreateAppointment(appt *models.Appointment) error {
	_ = appt.BeforeCreate(nil)
	if appt.IsActive() && t.slotTaken(appt.SlotID, appt.ID) {
		return fmt.Errorf("slot %s already booked: %w", appt.SlotID, ErrConflict)
	}
	now := t.store.now()
	appt.CreatedAt, appt.UpdatedAt = now, now
	t.appointments[appt.ID] = cloneOf(appt)
	return nil
}

func (t *memoryTx) SaveAppointment(appt *models.Appointment) error {
	if _, ok := t.store.appointments[appt.ID]; !ok {
		if _, staged := t.appointments[appt.ID]; !staged {
			return fmt.Errorf("appointment %s: %w", appt.ID, ErrNotFound)
		}
	}
	if appt.IsActive() && t.slotTaken(appt.SlotID, appt.ID) {
		return fmt.Errorf("slot %s already booked: %w", appt.SlotID, ErrConflict)
	}
	appt.UpdatedAt = t.store.now()
	t.appointments[appt.ID] = cloneOf(appt)
	return nil
}

func (t *memoryTx) slotTaken(slotID, self uuid.UUID) bool {
	for id, a := range t.appointments {
		if id != self && a.SlotID == slotID && a.IsActive() {
			return true
		}
	}
	for id, a := range t.store.appointments {
		if id == self {
			continue
		}
		if _, staged := t.appointments[id]; staged {
			continue
		}
		if a.SlotID == slotID && a.IsActive() {
			return true
		}
	}
	return false
}

// Conversation operations
func (m *MemoryStore) GetConversationState(ctx context.Context, contactID uuid.UUID) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.conversations[contactID]
	if !ok {
		return nil, fmt.Errorf("conversation for contact %s: %w", contactID, ErrNotFound)
	}
	return cloneOf(s), nil
}

func (m *MemoryStore) SaveConversationState(ctx context.Context, state *models.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.conversations[state.ContactID]; ok {
		state.ID = existing.ID
		state.CreatedAt = existing.CreatedAt
	} else {
		_ = state.BeforeCreate(nil)
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	m.conversations[state.ContactID] = cloneOf(state)
	return nil
}

func (m *MemoryStore) ResetExpiredConversations(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.conversations {
		if s.CurrentState == models.StateIdle || s.ExpiresAt == nil || !s.ExpiresAt.Before(now) {
			continue
		}
		s.CurrentState = models.StateIdle
		s.Context = datatypes.JSON("{}")
		s.ExpiresAt = nil
		s.UpdatedAt = now
		n++
	}
	return n, nil
}

// Message operations
func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ProviderMessageID != nil {
		for _, existing := range m.messages {
			if existing.ProviderMessageID != nil && *existing.ProviderMessageID == *msg.ProviderMessageID {
				return fmt.Errorf("message %s: %w", *msg.ProviderMessageID, ErrConflict)
			}
		}
	}
	_ = msg.BeforeCreate(nil)
	now := m.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	m.messages[msg.ID] = cloneOf(msg)
	return nil
}

func (m *MemoryStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[msg.ID]; !ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrNotFound)
	}
	msg.UpdatedAt = m.now()
	m.messages[msg.ID] = cloneOf(msg)
	return nil
}

func (m *MemoryStore) GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerID {
			return cloneOf(msg), nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", providerID, ErrNotFound)
}

func (m *MemoryStore) GetRetryableMessages(ctx context.Context, maxRetries, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Message
	for _, msg := range m.messages {
		if msg.Direction == models.DirectionOutbound && msg.Status == models.MessageStatusFailed &&
			!msg.Terminal && msg.RetryCount < maxRetries {
			out = append(out, cloneOf(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) HasMessageForAppointment(ctx context.Context, appointmentID uuid.UUID, kind string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.Kind == kind && msg.AppointmentID != nil && *msg.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

// Campaign operations
func (m *MemoryStore) CreateCampaign(ctx context.Context, campaign *models.Campaign, recipients []*models.CampaignRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = campaign.BeforeCreate(nil)
	now := m.now()
	campaign.CreatedAt, campaign.UpdatedAt = now, now
	campaign.TotalRecipients = len(recipients)
	m.campaigns[campaign.ID] = cloneOf(campaign)
	for _, r := range recipients {
		r.CampaignID = campaign.ID
		_ = r.BeforeCreate(nil)
		m.recipients[r.ID] = cloneOf(r)
	}
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return cloneOf(c), nil
}

func (m *MemoryStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[campaign.ID]; !ok {
		return fmt.Errorf("campaign %s: %w", campaign.ID, ErrNotFound)
	}
	campaign.UpdatedAt = m.now()
	m.campaigns[campaign.ID] = cloneOf(campaign)
	return nil
}

func (m *MemoryStore) GetCampaignsByStatus(ctx context.Context, status string) ([]*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			out = append(out, cloneOf(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetDueRecipients(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*models.CampaignRecipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.CampaignRecipient
	for _, r := range m.recipients {
		if r.CampaignID != campaignID || r.Status != models.RecipientStatusPending {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, cloneOf(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateRecipient(ctx context.Context, recipient *models.CampaignRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recipients[recipient.ID]; !ok {
		return fmt.Errorf("campaign recipient %s: %w", recipient.ID, ErrNotFound)
	}
	m.recipients[recipient.ID] = cloneOf(recipient)
	return nil
}

func (m *MemoryStore) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (*models.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.campaigns[campaignID]; !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	stats := &models.CampaignStats{}
	for _, r := range m.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		stats.TotalRecipients++
		switch r.Status {
		case models.RecipientStatusPending:
			stats.Pending++
		case models.RecipientStatusSent:
			stats.Sent++
		case models.RecipientStatusFailed:
			stats.Failed++
		case models.RecipientStatusSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}
