package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
)

type DiscordSink struct {
	baseURL *url.URL
	client  *http.Client
	token   string
}

type messagePayload struct {
	Content          string            `json:"content"`
	MessageReference *messageReference `json:"message_reference,omitempty"`
}

type messageReference struct {
	MessageID string `json:"message_id"`
}

func NewDiscordSink(baseURL string, token string, timeout time.Duration) (*DiscordSink, error) {
	normalized := strings.TrimSpace(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("discord api url is required")
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid discord api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid discord api url, need scheme and host: %s", normalized)
	}

	clientTimeout := timeout
	if clientTimeout <= 0 {
		clientTimeout = 10 * time.Second
	}

	return &DiscordSink{
		baseURL: u,
		client:  &http.Client{Timeout: clientTimeout},
		token:   strings.TrimSpace(token),
	}, nil
}

func (s *DiscordSink) SendToChannel(ctx context.Context, channelID string, content string) error {
	return s.post(ctx, channelID, messagePayload{Content: content})
}

func (s *DiscordSink) ReplyTo(ctx context.Context, requestID string, content string) error {
	channelID, messageID, ok := strings.Cut(requestID, ":")
	if !ok || channelID == "" || messageID == "" {
		return fmt.Errorf("malformed request id %q, want channelID:messageID", requestID)
	}
	return s.post(ctx, channelID, messagePayload{
		Content:          content,
		MessageReference: &messageReference{MessageID: messageID},
	})
}

func (s *DiscordSink) post(ctx context.Context, channelID string, payload messagePayload) error {
	logger := ilog.Component("notify")
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("channel id is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message payload failed: %w", err)
	}

	endpoint := s.baseURL.ResolveReference(&url.URL{
		Path: strings.TrimSuffix(s.baseURL.Path, "/") + "/channels/" + channelID + "/messages",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build message request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bot "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		preview := strings.TrimSpace(string(raw))
		if len(preview) > 240 {
			preview = preview[:240] + "..."
		}
		return fmt.Errorf("discord rejected message channel=%s status=%d body=%q", channelID, resp.StatusCode, preview)
	}

	logger.Debugf("message delivered channel=%s bytes=%d", channelID, len(payload.Content))
	return nil
}

var _ Sink = (*DiscordSink)(nil)
