package activity

import "context"

type PresenceUser struct {
	ID       string
	Username string
	Game     string
}

// PresenceSource lists who is currently online in the community.
type PresenceSource interface {
	OnlineUsers(ctx context.Context) ([]PresenceUser, error)
}

type Service interface {
	LogOnlineUsers(ctx context.Context) error
	AggregateDaily(ctx context.Context) error
}
