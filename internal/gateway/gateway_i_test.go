package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewConnector_InvalidURL(t *testing.T) {
	_, err := NewConnector("://bad-url", 5*time.Second, "")
	if err == nil {
		t.Fatalf("expected invalid url error")
	}
}

func TestConnector_Create(t *testing.T) {
	var gotPath, gotAuth, gotRequestID string
	var gotPayload createPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	connector, err := NewConnector(srv.URL, 5*time.Second, "secret")
	if err != nil {
		t.Fatalf("create connector failed: %v", err)
	}

	spec := CreateSpec{MatchID: 42, Maps: []string{"mp_harbor"}, Slots: 10}
	if err := connector.Create(context.Background(), "dev-match-42", spec); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if gotPath != "POST /v1/servers" {
		t.Fatalf("unexpected request: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Fatalf("missing request id header")
	}
	if gotPayload.Name != "dev-match-42" || gotPayload.MatchID != 42 || gotPayload.Slots != 10 {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
}

func TestConnector_DestroyNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/servers/dev-match-7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		http.Error(w, "no such server", http.StatusNotFound)
	}))
	defer srv.Close()

	connector, err := NewConnector(srv.URL, 5*time.Second, "")
	if err != nil {
		t.Fatalf("create connector failed: %v", err)
	}

	if err := connector.Destroy(context.Background(), "dev-match-7"); err == nil {
		t.Fatalf("expected error on 404 response")
	}
}

func TestConnector_EmptyName(t *testing.T) {
	connector, err := NewConnector("http://localhost:9100", 5*time.Second, "")
	if err != nil {
		t.Fatalf("create connector failed: %v", err)
	}
	if err := connector.Create(context.Background(), "  ", CreateSpec{}); err == nil {
		t.Fatalf("expected name validation error")
	}
	if err := connector.Destroy(context.Background(), ""); err == nil {
		t.Fatalf("expected name validation error")
	}
}
