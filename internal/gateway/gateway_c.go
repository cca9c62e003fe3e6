package gateway

import "context"

// Gateway drives the hosting fleet API. Create is accept-only: a nil error
// means the request was accepted, not that the server exists yet. Readiness
// arrives later on the status feed.
type Gateway interface {
	Create(ctx context.Context, serverName string, spec CreateSpec) error
	Destroy(ctx context.Context, serverName string) error
}

type CreateSpec struct {
	MatchID int64
	Maps    []string
	Slots   int
}
