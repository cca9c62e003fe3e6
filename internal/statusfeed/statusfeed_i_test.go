package statusfeed

import (
	"context"
	"os"
	"testing"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"

	"github.com/redis/go-redis/v9"
)

func TestDecodeEvent(t *testing.T) {
	payload := []byte(`{"name":"dev-match-3","status":"online","ip":"10.0.0.4:28960","password":"pw","rcon":"rc","slots":10}`)
	ev, err := decodeEvent(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Name != "dev-match-3" || ev.Status != "online" || ev.Slots != 10 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	if _, err := decodeEvent([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := decodeEvent([]byte(`{"status":"online"}`)); err == nil {
		t.Fatalf("expected missing name error")
	}
}

func TestFilterMatches(t *testing.T) {
	ev := Event{Name: "dev-match-3", Status: "online"}

	if !(Filter{Name: "dev-match-3"}).matches(ev) {
		t.Fatalf("name-only filter should match")
	}
	if !(Filter{Name: "dev-match-3", Status: "online"}).matches(ev) {
		t.Fatalf("name+status filter should match")
	}
	if (Filter{Name: "dev-match-4"}).matches(ev) {
		t.Fatalf("other server name should not match")
	}
	if (Filter{Name: "dev-match-3", Status: "creating"}).matches(ev) {
		t.Fatalf("other status should not match")
	}
}

func TestSubscriptionCancelIdempotent(t *testing.T) {
	calls := 0
	sub := &subscriptionI{
		events: make(chan Event, 1),
		stop:   func() { calls++ },
	}
	sub.Cancel()
	sub.Cancel()
	if calls != 1 {
		t.Fatalf("stop called %d times, want 1", calls)
	}
}

func TestFeed_WatchDeliversFirstMatch(t *testing.T) {
	if os.Getenv("RUN_REDIS_E2E") != "1" {
		t.Skip("set RUN_REDIS_E2E=1 to run real redis integration test")
	}

	ilog.SetupLogger(ilog.LevelDebug)
	logger := ilog.Component("test")

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed := NewFeedI(client, "gameservers")
	sub, err := feed.Watch(ctx, Filter{Name: "dev-match-99", Status: "online"})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer sub.Cancel()

	// Non-matching first, then the one we wait for.
	client.Publish(ctx, "gameservers", `{"name":"dev-match-98","status":"online"}`)
	client.Publish(ctx, "gameservers", `{"name":"dev-match-99","status":"online","ip":"10.0.0.4:28960"}`)

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed without delivery")
		}
		logger.Infof("received event: %+v", ev)
		if ev.Name != "dev-match-99" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}
