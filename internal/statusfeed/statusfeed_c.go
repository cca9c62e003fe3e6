package statusfeed

import "context"

// Event is one status snapshot published by the provisioning pipeline.
type Event struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	IP       string `json:"ip"`
	Password string `json:"password"`
	RCON     string `json:"rcon"`
	Slots    int    `json:"slots"`
}

// Filter selects events by server name and, optionally, status.
type Filter struct {
	Name   string
	Status string
}

// Subscription yields at most one event before its channel closes.
// Cancel is idempotent and safe to call after delivery.
type Subscription interface {
	Events() <-chan Event
	Cancel()
}

// Feed is a single-fire watch over the status channel: the subscription
// delivers the first event matching the filter and then closes itself.
type Feed interface {
	Watch(ctx context.Context, f Filter) (Subscription, error)
}
