package probe

import "context"

// Prober asks a game server how many players it currently holds.
type Prober interface {
	QueryPlayers(ctx context.Context, addr string) (int, error)
}
