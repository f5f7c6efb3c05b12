package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/services"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExpirer struct{ calls atomic.Int32 }

func (f *fakeExpirer) ExpireStale(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

type fakeRetrier struct {
	limit int
	err   error
}

func (f *fakeRetrier) RetryFailed(ctx context.Context, limit int) (int, error) {
	f.limit = limit
	return 2, f.err
}

type fakeReminders struct{ calls atomic.Int32 }

func (f *fakeReminders) SendDueReminders(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

type fakeCampaigns struct {
	mu          sync.Mutex
	active      []*models.Campaign
	processed   []uuid.UUID
	sizes       []int
	failFor     uuid.UUID
	activateErr error
}

func (f *fakeCampaigns) ActivateDue(ctx context.Context) (int, error) {
	return 0, f.activateErr
}

func (f *fakeCampaigns) ActiveCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	return f.active, nil
}

func (f *fakeCampaigns) ProcessBatch(ctx context.Context, id uuid.UUID, size int) (services.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	f.sizes = append(f.sizes, size)
	if id == f.failFor {
		return services.BatchResult{}, errors.New("batch failed")
	}
	return services.BatchResult{Sent: 1}, nil
}

func TestRunCampaignsContinuesPastFailures(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	campaigns := &fakeCampaigns{
		active:  []*models.Campaign{{ID: first}, {ID: second}},
		failFor: first,
	}
	s := NewScheduler(nil, nil, nil, campaigns, DefaultIntervals(), discardLogger())

	require.NoError(t, s.RunCampaigns(context.Background()))
	assert.Equal(t, []uuid.UUID{first, second}, campaigns.processed)
	assert.Equal(t, []int{services.DefaultCampaignBatchSize, services.DefaultCampaignBatchSize}, campaigns.sizes)
}

func TestRunCampaignsStopsWhenActivationFails(t *testing.T) {
	campaigns := &fakeCampaigns{
		active:      []*models.Campaign{{ID: uuid.New()}},
		activateErr: errors.New("db down"),
	}
	s := NewScheduler(nil, nil, nil, campaigns, DefaultIntervals(), discardLogger())

	assert.Error(t, s.RunCampaigns(context.Background()))
	assert.Empty(t, campaigns.processed)
}

func TestRetryMessagesUsesBatchSize(t *testing.T) {
	retrier := &fakeRetrier{}
	s := NewScheduler(nil, retrier, nil, nil, DefaultIntervals(), discardLogger())

	require.NoError(t, s.RetryMessages(context.Background()))
	assert.Equal(t, RetryBatchSize, retrier.limit)

	retrier.err = errors.New("query failed")
	assert.Error(t, s.RetryMessages(context.Background()))
}

func TestSchedulerStartStop(t *testing.T) {
	expirer := &fakeExpirer{}
	reminders := &fakeReminders{}
	intervals := Intervals{Expiry: 5 * time.Millisecond, Reminders: 5 * time.Millisecond}
	s := NewScheduler(expirer, nil, reminders, nil, intervals, discardLogger())

	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2 && reminders.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	stopped := expirer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, expirer.calls.Load())

	s.Stop()
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	expirer := &fakeExpirer{}
	s := NewScheduler(expirer, nil, nil, nil, Intervals{Expiry: 5 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
