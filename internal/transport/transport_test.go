package transport

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewClient_TrustsConfiguredCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	if err := os.WriteFile(caPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}

	c, err := NewClient(TrustAnchor{CAFile: caPath}, 5*time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("expected trusted request, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestNewClient_RejectsUnknownCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	c, err := NewClient(TrustAnchor{}, 5*time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp, err := c.Get(srv.URL); err == nil {
		resp.Body.Close()
		t.Fatalf("expected certificate verification failure")
	}
}

func TestTLSConfig_BadCAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (TrustAnchor{CAFile: path}).TLSConfig(); err == nil {
		t.Fatalf("expected error for file without certificates")
	}
	if _, err := (TrustAnchor{CAFile: filepath.Join(t.TempDir(), "nope")}).TLSConfig(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
