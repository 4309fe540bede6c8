package relay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/parkkyonghun0510/lc-opd-daily-sub004/internal/platform/relay"
	"github.com/parkkyonghun0510/lc-opd-daily-sub004/pkg/event"
)

// pubsubFixture holds the in-memory Pub/Sub server and a connected client.
type pubsubFixture struct {
	client *pubsub.Client
	topic  string
	subA   string
	subB   string
}

func setupPubSub(t *testing.T) (context.Context, *pubsubFixture) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	const projectID = "test-project"
	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, "event-relay")
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)

	for _, subID := range []string{"relay-sub-a", "relay-sub-b"} {
		subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
		_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
			Name:  subName,
			Topic: topicName,
		})
		require.NoError(t, err)
	}

	return ctx, &pubsubFixture{
		client: client,
		topic:  "event-relay",
		subA:   "relay-sub-a",
		subB:   "relay-sub-b",
	}
}

func TestPubSubRelay_CrossInstanceDelivery(t *testing.T) {
	ctx, fx := setupPubSub(t)

	relayA, err := relay.NewPubSubRelay(fx.client.Publisher(fx.topic), fx.client.Subscriber(fx.subA), "instance-a", zerolog.Nop())
	require.NoError(t, err)
	relayB, err := relay.NewPubSubRelay(fx.client.Publisher(fx.topic), fx.client.Subscriber(fx.subB), "instance-b", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(relayA.Stop)
	t.Cleanup(relayB.Stop)

	var mu sync.Mutex
	var gotA, gotB []event.Event
	require.NoError(t, relayA.Start(ctx, func(ev event.Event) {
		mu.Lock()
		gotA = append(gotA, ev)
		mu.Unlock()
	}))
	require.NoError(t, relayB.Start(ctx, func(ev event.Event) {
		mu.Lock()
		gotB = append(gotB, ev)
		mu.Unlock()
	}))

	ev := event.New(event.TypeReportUpdate, json.RawMessage(`{"reportId":"r1","status":"approved"}`), &event.Targets{Roles: []string{"manager"}})
	require.NoError(t, relayA.Publish(ctx, ev))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotB) == 1
	}, 5*time.Second, 20*time.Millisecond, "instance B should receive the event")

	mu.Lock()
	assert.Equal(t, ev.ID, gotB[0].ID)
	assert.Equal(t, ev.Targets, gotB[0].Targets)
	assert.Empty(t, gotA, "origin instance must not re-receive its own event")
	mu.Unlock()
}

func TestPubSubRelay_LocalOnlyMode(t *testing.T) {
	ctx, fx := setupPubSub(t)

	r, err := relay.NewPubSubRelay(fx.client.Publisher(fx.topic), nil, "instance-a", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx, func(event.Event) { t.Fatal("no events expected") }))
	require.NoError(t, r.Publish(ctx, event.New(event.TypeNotification, nil, nil)))
	r.Stop()
}
