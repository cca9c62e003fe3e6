package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
)

// Quake3-protocol status probe. The server answers a connectionless
// "getstatus" datagram with its cvar line followed by one line per player.

const (
	DefaultTimeout  = 3 * time.Second
	responseMaxSize = 16 * 1024
)

var getstatusPacket = []byte("\xff\xff\xff\xffgetstatus\n")

type ProberI struct {
	timeout time.Duration
}

func NewProberI(timeout time.Duration) *ProberI {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProberI{timeout: timeout}
}

func (p *ProberI) QueryPlayers(ctx context.Context, addr string) (int, error) {
	logger := ilog.Component("probe")
	if strings.TrimSpace(addr) == "" {
		return 0, fmt.Errorf("probe address is required")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set deadline failed: %w", err)
	}

	if _, err := conn.Write(getstatusPacket); err != nil {
		return 0, fmt.Errorf("send getstatus to %s failed: %w", addr, err)
	}

	buf := make([]byte, responseMaxSize)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("read status from %s failed: %w", addr, err)
	}

	count, err := parsePlayerCount(buf[:n])
	if err != nil {
		return 0, fmt.Errorf("parse status from %s failed: %w", addr, err)
	}
	logger.Debugf("probe addr=%s players=%d", addr, count)
	return count, nil
}

func parsePlayerCount(response []byte) (int, error) {
	payload := strings.TrimPrefix(string(response), "\xff\xff\xff\xff")
	lines := strings.Split(payload, "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "statusResponse") {
		return 0, fmt.Errorf("not a statusResponse packet")
	}

	// lines[1] is the backslash-delimited cvar block, the rest are players.
	count := 0
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

var _ Prober = (*ProberI)(nil)
