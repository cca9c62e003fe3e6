package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestParsePlayerCount(t *testing.T) {
	response := []byte("\xff\xff\xff\xffstatusResponse\n" +
		"\\sv_hostname\\dev-match-3\\mapname\\mp_harbor\n" +
		"0 12 \"playerone\"\n" +
		"3 48 \"playertwo\"\n")
	count, err := parsePlayerCount(response)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("player count = %d, want 2", count)
	}
}

func TestParsePlayerCount_Empty(t *testing.T) {
	response := []byte("\xff\xff\xff\xffstatusResponse\n\\sv_hostname\\dev-match-3\n")
	count, err := parsePlayerCount(response)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("player count = %d, want 0", count)
	}
}

func TestParsePlayerCount_NotStatusResponse(t *testing.T) {
	if _, err := parsePlayerCount([]byte("\xff\xff\xff\xffdisconnect")); err == nil {
		t.Fatalf("expected parse error for non-status packet")
	}
}

func TestQueryPlayers_UDPLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer pc.Close()

	go func() {
		buf := make([]byte, 512)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) != "\xff\xff\xff\xffgetstatus\n" {
			return
		}
		response := "\xff\xff\xff\xffstatusResponse\n\\mapname\\mp_dawnville\n0 0 \"solo\"\n"
		_, _ = pc.WriteTo([]byte(response), addr)
	}()

	prober := NewProberI(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := prober.QueryPlayers(ctx, pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("player count = %d, want 1", count)
	}
}

func TestQueryPlayers_Timeout(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer pc.Close()

	// Nothing answers on this socket.
	prober := NewProberI(200 * time.Millisecond)
	if _, err := prober.QueryPlayers(context.Background(), pc.LocalAddr().String()); err == nil {
		t.Fatalf("expected timeout error")
	}
}
