package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doccal/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures the order of refresh and insert calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeInserter struct {
	log    *recorder
	failOn map[string]error
	delay  func(title string) time.Duration
}

func (f *fakeInserter) InsertEvent(ctx context.Context, ev models.ValidatedEvent) (string, error) {
	if f.delay != nil {
		time.Sleep(f.delay(ev.Title))
	}
	f.log.add("insert:" + ev.Title)
	if err, ok := f.failOn[ev.Title]; ok {
		return "", err
	}
	return "id-" + ev.Title, nil
}

type fakeRefresher struct {
	log *recorder
	err error
}

func (f *fakeRefresher) EnsureFresh(context.Context) error {
	f.log.add("refresh")
	return f.err
}

func makeEvents(n int) []models.ValidatedEvent {
	start := time.Date(2024, 10, 15, 10, 0, 0, 0, time.UTC)
	events := make([]models.ValidatedEvent, n)
	for i := range events {
		title := fmt.Sprintf("event-%d", i)
		events[i] = models.ValidatedEvent{
			Title:  title,
			Start:  start,
			End:    start.Add(time.Hour),
			Source: models.CandidateEvent{Title: title, Date: "2024-10-15"},
		}
	}
	return events
}

func TestSyncAll_IsolatesSingleFailure(t *testing.T) {
	const n, k = 5, 2
	log := &recorder{}
	events := makeEvents(n)
	ins := &fakeInserter{log: log, failOn: map[string]error{
		events[k].Title: fmt.Errorf("%w: calendar API returned 500: backend error", models.ErrRemoteInsertion),
	}}

	s := NewSyncer(testLogger(), ins, &fakeRefresher{log: log}, Options{})
	results, err := s.SyncAll(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, results, n)

	for i, res := range results {
		assert.Equal(t, events[i].Source, res.Event, "result %d out of order", i)
		if i == k {
			assert.Equal(t, models.StatusFailed, res.Status)
			assert.Contains(t, res.Reason, "500")
			continue
		}
		assert.Equal(t, models.StatusInserted, res.Status)
		assert.Equal(t, "id-"+events[i].Title, res.RemoteID)
	}

	assert.Equal(t, []string{
		"refresh", "insert:event-0", "insert:event-1", "insert:event-2", "insert:event-3", "insert:event-4",
	}, log.list())
}

func TestSyncAll_ConcurrentKeepsOrder(t *testing.T) {
	log := &recorder{}
	events := makeEvents(8)
	ins := &fakeInserter{
		log:    log,
		failOn: map[string]error{"event-5": errors.New("boom")},
		// Earlier events finish last.
		delay: func(title string) time.Duration {
			var i int
			_, _ = fmt.Sscanf(title, "event-%d", &i)
			return time.Duration(8-i) * 5 * time.Millisecond
		},
	}

	s := NewSyncer(testLogger(), ins, nil, Options{Workers: 4})
	results, err := s.SyncAll(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, results, len(events))

	for i, res := range results {
		assert.Equal(t, events[i].Source, res.Event)
		if i == 5 {
			assert.Equal(t, models.StatusFailed, res.Status)
		} else {
			assert.Equal(t, models.StatusInserted, res.Status)
		}
	}
	assert.Len(t, log.list(), len(events))
}

func TestSyncAll_RefreshBeforeFirstInsert(t *testing.T) {
	log := &recorder{}
	s := NewSyncer(testLogger(), &fakeInserter{log: log}, &fakeRefresher{log: log}, Options{Workers: 3})

	_, err := s.SyncAll(context.Background(), makeEvents(3))
	require.NoError(t, err)

	calls := log.list()
	require.Len(t, calls, 4)
	assert.Equal(t, "refresh", calls[0])
}

func TestSyncAll_RefreshFailureAbortsBatch(t *testing.T) {
	log := &recorder{}
	refreshErr := fmt.Errorf("%w: invalid_grant", models.ErrTokenRefresh)
	s := NewSyncer(testLogger(), &fakeInserter{log: log}, &fakeRefresher{log: log, err: refreshErr}, Options{})

	events := makeEvents(3)
	results, err := s.SyncAll(context.Background(), events)

	assert.ErrorIs(t, err, models.ErrTokenRefresh)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, events[i].Source, res.Event)
		assert.Equal(t, models.StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "invalid_grant")
	}
	assert.Equal(t, []string{"refresh"}, log.list())
}

func TestSyncAll_DryRun(t *testing.T) {
	log := &recorder{}
	s := NewSyncer(testLogger(), &fakeInserter{log: log}, &fakeRefresher{log: log}, Options{DryRun: true})

	results, err := s.SyncAll(context.Background(), makeEvents(2))
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, models.StatusSkipped, res.Status)
		assert.Equal(t, "dry run", res.Reason)
	}
	assert.Empty(t, log.list())
}

func TestSyncAll_CancelledContext(t *testing.T) {
	log := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSyncer(testLogger(), &fakeInserter{log: log}, nil, Options{})
	results, err := s.SyncAll(ctx, makeEvents(2))
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, models.StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "not attempted")
	}
	assert.Empty(t, log.list())
}

func TestSyncAll_Empty(t *testing.T) {
	log := &recorder{}
	s := NewSyncer(testLogger(), &fakeInserter{log: log}, &fakeRefresher{log: log}, Options{})

	results, err := s.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, log.list(), "no refresh without events")
}

func TestSyncAll_CarriesWarning(t *testing.T) {
	events := makeEvents(1)
	events[0].Warning = "empty title"

	s := NewSyncer(testLogger(), &fakeInserter{log: &recorder{}}, nil, Options{})
	results, err := s.SyncAll(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, "empty title", results[0].Warning)
}
