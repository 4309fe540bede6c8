package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

type fakeStore struct {
	events []event.Event
	err    error
	since  time.Time
}

func (f *fakeStore) Append(ctx context.Context, ev event.Event) (string, error) { return ev.ID, nil }
func (f *fakeStore) List(ctx context.Context, since time.Time) ([]event.Event, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	var out []event.Event
	for _, ev := range f.events {
		if since.IsZero() || ev.Timestamp.After(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}
func (f *fakeStore) Clear(ctx context.Context) error { return nil }

func eventAt(ts time.Time, targets *event.Targets) event.Event {
	ev := event.New(event.TypeNotification, []byte(`{}`), targets)
	ev.Timestamp = ts
	return ev
}

func TestPoll_FiltersByIdentity(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{events: []event.Event{
		eventAt(now, nil),
		eventAt(now, &event.Targets{UserIDs: []string{"alice"}}),
		eventAt(now, &event.Targets{Roles: []string{"admin"}}),
		eventAt(now, &event.Targets{UserIDs: []string{"bob"}}),
	}}
	gw, err := NewGateway(store, zerolog.Nop())
	require.NoError(t, err)

	got, err := gw.Poll(context.Background(), "alice", []string{"admin"}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 3, "broadcast, by-user, and by-role events are visible")

	got, err = gw.Poll(context.Background(), "carol", nil, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1, "only the broadcast is visible")
}

func TestPoll_SinceCursorForwarded(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{events: []event.Event{
		eventAt(now, nil),
		eventAt(now.Add(-time.Hour), nil),
	}}
	gw, err := NewGateway(store, zerolog.Nop())
	require.NoError(t, err)

	since := now.Add(-time.Minute)
	got, err := gw.Poll(context.Background(), "alice", nil, since)
	require.NoError(t, err)
	assert.Equal(t, since, store.since, "cursor passed through to the store")
	assert.Len(t, got, 1)
}

func TestPoll_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{events: []event.Event{eventAt(now, nil)}}
	gw, err := NewGateway(store, zerolog.Nop())
	require.NoError(t, err)

	first, err := gw.Poll(context.Background(), "alice", nil, time.Time{})
	require.NoError(t, err)
	second, err := gw.Poll(context.Background(), "alice", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPoll_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("redis down")}
	gw, err := NewGateway(store, zerolog.Nop())
	require.NoError(t, err)

	_, err = gw.Poll(context.Background(), "alice", nil, time.Time{})
	require.Error(t, err)
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(nil, zerolog.Nop())
	require.Error(t, err)
}
