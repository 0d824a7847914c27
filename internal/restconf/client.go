// Package restconf snapshots and restores a device's native configuration
// tree over RESTCONF.
package restconf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/failure"
)

const (
	nativePath       = "/restconf/data/Cisco-IOS-XE-native:native"
	capabilitiesPath = "/restconf/data/netconf-state/capabilities"
	yangJSON         = "application/yang-data+json"
)

type Credentials struct {
	Username string
	Password string
}

// Present reports whether both username and password are configured.
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

type Client struct {
	log     zerolog.Logger
	http    *http.Client
	timeout time.Duration
}

func New(log zerolog.Logger, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{log: log, http: httpClient, timeout: timeout}
}

// Snapshot fetches the native config tree as JSON text. When the device
// does not answer 200, the capabilities resource is probed and logged to
// help diagnose which models the device exposes.
func (c *Client) Snapshot(ctx context.Context, address string, creds Credentials) (string, error) {
	status, body, err := c.send(ctx, http.MethodGet, address, nativePath, nil, creds)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return string(body), nil
	}

	c.probeCapabilities(ctx, address, creds)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", failure.Newf(failure.Auth, "restconf snapshot", "device %s rejected credentials (status %d)", address, status)
	}
	return "", failure.Newf(failure.Network, "restconf snapshot", "device %s returned status %d", address, status)
}

// Restore replaces the native config tree with payload and returns the
// device's status code.
func (c *Client) Restore(ctx context.Context, address string, payload string, creds Credentials) (int, error) {
	if !json.Valid([]byte(payload)) {
		return 0, failure.Newf(failure.Decode, "restconf restore", "payload is not valid JSON")
	}
	status, _, err := c.send(ctx, http.MethodPut, address, nativePath, []byte(payload), creds)
	if err != nil {
		return 0, err
	}
	return status, nil
}

func (c *Client) probeCapabilities(ctx context.Context, address string, creds Credentials) {
	status, body, err := c.send(ctx, http.MethodGet, address, capabilitiesPath, nil, creds)
	ev := c.log.Warn().Str("address", address)
	if err != nil {
		ev.Err(err).Msg("restconf capabilities probe failed")
		return
	}

	var caps struct {
		Capabilities struct {
			Capability []string `json:"capability"`
		} `json:"ietf-netconf-monitoring:capabilities"`
	}
	if status == http.StatusOK && json.Unmarshal(body, &caps) == nil {
		ev.Int("capabilities", len(caps.Capabilities.Capability)).Msg("restconf native config unavailable; device capabilities probed")
		return
	}
	ev.Int("status", status).Msg("restconf capabilities probe unsuccessful")
}

func (c *Client) send(ctx context.Context, method, address, path string, payload []byte, creds Credentials) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, "https://"+address+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build restconf request: %w", err)
	}
	req.Header.Set("Content-Type", yangJSON)
	req.Header.Set("Accept", yangJSON)
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, failure.New(failure.Timeout, "restconf "+method, err)
		}
		return 0, nil, failure.New(failure.Network, "restconf "+method, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, failure.New(failure.Network, "restconf "+method, err)
	}
	return resp.StatusCode, b, nil
}
