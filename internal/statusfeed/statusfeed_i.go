package statusfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"

	"github.com/redis/go-redis/v9"
)

type FeedI struct {
	client  *redis.Client
	channel string
}

func NewFeedI(client *redis.Client, channel string) *FeedI {
	return &FeedI{client: client, channel: channel}
}

type subscriptionI struct {
	events chan Event
	stop   func()
	once   sync.Once
}

func (s *subscriptionI) Events() <-chan Event {
	return s.events
}

func (s *subscriptionI) Cancel() {
	s.once.Do(s.stop)
}

func (f *FeedI) Watch(ctx context.Context, filter Filter) (Subscription, error) {
	logger := ilog.Component("statusfeed")
	if strings.TrimSpace(filter.Name) == "" {
		return nil, fmt.Errorf("watch filter needs a server name")
	}

	ps := f.client.Subscribe(ctx, f.channel)
	// Force the SUBSCRIBE round trip so a dead broker fails here,
	// not silently inside the reader goroutine.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s failed: %w", f.channel, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	sub := &subscriptionI{
		events: make(chan Event, 1),
		stop: func() {
			cancel()
			_ = ps.Close()
		},
	}

	logger.Debugf("watching channel=%s name=%s status=%s", f.channel, filter.Name, filter.Status)
	go func() {
		defer close(sub.events)
		in := ps.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					logger.Warnf("dropping malformed status payload: %v", err)
					continue
				}
				if !filter.matches(ev) {
					continue
				}
				sub.events <- ev
				sub.Cancel()
				return
			}
		}
	}()

	return sub, nil
}

func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode status event failed: %w", err)
	}
	if strings.TrimSpace(ev.Name) == "" {
		return Event{}, fmt.Errorf("status event has no server name")
	}
	return ev, nil
}

func (f Filter) matches(ev Event) bool {
	if ev.Name != f.Name {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	return true
}

var _ Feed = (*FeedI)(nil)
