// Package dnac talks to the controller's intent API: token auth, device
// inventory, config archive export, task polling and file download.
package dnac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"cfgvault/core-go/internal/failure"
)

const (
	authPath    = "/dna/system/api/v1/auth/token"
	devicesPath = "/dna/intent/api/v1/network-device"
	exportPath  = "/dna/intent/api/v1/network-device-archive/cleartext"
	taskPath    = "/dna/intent/api/v1/task/"
	filePrefix  = "/dna/intent"

	tokenHeader    = "x-auth-token"
	fileNameHeader = "fileName"
)

// Credentials identify one controller login.
type Credentials struct {
	Address  string
	Username string
	Password string
}

type DeviceInfo struct {
	ID           string `json:"id"`
	Hostname     string `json:"hostname"`
	ManagementIP string `json:"managementIpAddress"`
}

// TaskStatus is one observation of an export task. Done is set once the
// controller publishes a download URL.
type TaskStatus struct {
	Done        bool
	Failed      bool
	Detail      string
	DownloadURL string
}

type Download struct {
	Name string
	Body []byte
}

// PollPolicy bounds WaitForTask.
type PollPolicy struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Backoff     bool
	Clock       clock.Clock
}

// DefaultHalfOpenRequests matches the backup worker count, so a
// recovering controller is probed by a whole run rather than one device.
const DefaultHalfOpenRequests = 9

type Options struct {
	HTTPClient  *http.Client
	Poll        PollPolicy
	MaxFailures uint32
	OpenTimeout time.Duration
	// HalfOpenRequests is how many calls may pass while the breaker
	// tests a recovering controller.
	HalfOpenRequests uint32
}

// Client is safe for concurrent use. It keeps one circuit breaker per
// controller address.
type Client struct {
	log  zerolog.Logger
	http *http.Client
	poll PollPolicy

	maxFailures uint32
	openTimeout time.Duration
	halfOpen    uint32

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

func New(log zerolog.Logger, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Poll.Delay <= 0 {
		opts.Poll.Delay = time.Second
	}
	if opts.Poll.MaxAttempts <= 0 {
		opts.Poll.MaxAttempts = 120
	}
	if opts.Poll.Clock == nil {
		opts.Poll.Clock = clock.WallClock
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.HalfOpenRequests == 0 {
		opts.HalfOpenRequests = DefaultHalfOpenRequests
	}

	return &Client{
		log:         log,
		http:        opts.HTTPClient,
		poll:        opts.Poll,
		maxFailures: opts.MaxFailures,
		openTimeout: opts.OpenTimeout,
		halfOpen:    opts.HalfOpenRequests,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (c *Client) breaker(address string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[address]; ok {
		return cb
	}
	maxFailures := c.maxFailures
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "dnac:" + address,
		MaxRequests: c.halfOpen,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("controller circuit breaker state change")
		},
	})
	c.breakers[address] = cb
	return cb
}

// Session is an authenticated controller connection. It is read-only after
// Authenticate and may be shared by concurrent workers.
type Session struct {
	client  *Client
	address string
	token   string
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func (s *Session) Address() string { return s.address }

// Authenticate exchanges basic credentials for an API token.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if strings.TrimSpace(creds.Address) == "" {
		return nil, failure.Newf(failure.Auth, "authenticate", "controller address is empty")
	}

	s := &Session{client: c, address: creds.Address, breaker: c.breaker(creds.Address)}
	resp, err := s.do(ctx, "authenticate", http.MethodPost, authPath, nil, func(req *http.Request) {
		req.SetBasicAuth(creds.Username, creds.Password)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Token string `json:"Token"`
	}
	if err := decode(resp, "authenticate", &body); err != nil {
		return nil, err
	}
	if body.Token == "" {
		return nil, failure.Newf(failure.Auth, "authenticate", "controller returned no token")
	}
	s.token = body.Token
	return s, nil
}

func (s *Session) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := s.do(ctx, "list devices", http.MethodGet, devicesPath, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Response []DeviceInfo `json:"response"`
	}
	if err := decode(resp, "list devices", &body); err != nil {
		return nil, err
	}
	return body.Response, nil
}

// StartArchiveExport asks the controller to build a password-protected
// archive of the device's configs and returns the task id.
func (s *Session) StartArchiveExport(ctx context.Context, deviceID, password string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"deviceId": []string{deviceID},
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("encode export request: %w", err)
	}

	resp, err := s.do(ctx, "archive export", http.MethodPost, exportPath, payload, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Response struct {
			TaskID string `json:"taskId"`
		} `json:"response"`
	}
	if err := decode(resp, "archive export", &body); err != nil {
		return "", err
	}
	if body.Response.TaskID == "" {
		return "", failure.Newf(failure.Task, "archive export", "controller returned no task id")
	}
	return body.Response.TaskID, nil
}

func (s *Session) PollTask(ctx context.Context, taskID string) (TaskStatus, error) {
	resp, err := s.do(ctx, "poll task", http.MethodGet, taskPath+url.PathEscape(taskID), nil, nil)
	if err != nil {
		return TaskStatus{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Response struct {
			Progress            string `json:"progress"`
			IsError             bool   `json:"isError"`
			AdditionalStatusURL string `json:"additionalStatusURL"`
		} `json:"response"`
	}
	if err := decode(resp, "poll task", &body); err != nil {
		return TaskStatus{}, err
	}
	r := body.Response
	return TaskStatus{
		Done:        r.AdditionalStatusURL != "",
		Failed:      r.IsError,
		Detail:      r.Progress,
		DownloadURL: r.AdditionalStatusURL,
	}, nil
}

// Download fetches an export file. downloadURL is the path the task
// reported, relative to the intent API root.
func (s *Session) Download(ctx context.Context, downloadURL string) (Download, error) {
	resp, err := s.do(ctx, "download", http.MethodGet, filePrefix+downloadURL, nil, nil)
	if err != nil {
		return Download{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Download{}, failure.New(failure.Network, "download", err)
	}
	name := resp.Header.Get(fileNameHeader)
	if name == "" {
		name = "archive.zip"
	}
	return Download{Name: name, Body: b}, nil
}

// do sends one request through the address breaker. 5xx responses and
// transport errors count as breaker failures.
func (s *Session) do(ctx context.Context, op, method, path string, payload []byte, prepare func(*http.Request)) (*http.Response, error) {
	target := "https://" + s.address + path

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.token != "" {
			req.Header.Set(tokenHeader, s.token)
		}
		if prepare != nil {
			prepare(req)
		}

		resp, err := s.client.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			detail := readSnippet(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, detail)
		}
		return resp, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, failure.Newf(failure.Network, op, "controller %s unavailable: %v", s.address, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, failure.New(failure.Timeout, op, err)
		default:
			return nil, failure.New(failure.Network, op, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, failure.Newf(failure.Auth, op, "controller rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail := readSnippet(resp.Body)
		resp.Body.Close()
		return nil, failure.Newf(failure.Network, op, "status %d: %s", resp.StatusCode, detail)
	}
	return resp, nil
}

func decode(resp *http.Response, op string, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return failure.New(failure.Network, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
