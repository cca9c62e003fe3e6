package notify

import "context"

// Sink posts user-facing messages to the chat platform.
//
// ReplyTo targets a previous message; requestID carries the origin as
// "channelID:messageID" so async failures can surface next to the command
// that triggered them.
type Sink interface {
	SendToChannel(ctx context.Context, channelID string, content string) error
	ReplyTo(ctx context.Context, requestID string, content string) error
}
