package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// Two-tier request timeout: constrained (mobile-grade) networks get the
	// longer threshold. Not adaptive.
	requestTimeout            = 8 * time.Second
	requestTimeoutConstrained = 20 * time.Second

	maxAttempts = 3
	backoffStep = 500 * time.Millisecond
)

// Validator is implemented by response payloads that are checked at the
// fetch boundary before being handed to callers.
type Validator interface {
	Validate() error
}

// Client wraps outbound requests with timeout, bounded linear retry and
// automatic credential attachment. Session cookies live in the jar; a bearer
// token source may be set for clients that cannot rely on cookies.
type Client struct {
	base    string
	http    *http.Client
	token   func() string
	timeout time.Duration
	log     *zap.Logger
}

type Options struct {
	// Constrained selects the longer timeout tier.
	Constrained bool
	Logger      *zap.Logger
}

func New(base string, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := requestTimeout
	if opts.Constrained {
		timeout = requestTimeoutConstrained
	}

	// don't use the zero-config default client; set explicit dial and TLS
	// handshake timeouts
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	jar, _ := cookiejar.New(nil)

	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		token:   func() string { return "" },
		timeout: timeout,
		log:     log,
	}
}

// SetTokenSource installs the bearer fallback credential source. The caller
// never attaches credentials per call.
func (c *Client) SetTokenSource(fn func() string) {
	if fn != nil {
		c.token = fn
	}
}

// Do performs one request with retry. Retries happen only for network,
// server and (once) unknown classifications, with linearly increasing delay.
// On success the body is decoded into out (when non-nil) and validated if it
// implements Validator.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindUnknown, Message: err.Error()}
		}
	}

	reqID := uuid.NewString()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.once(ctx, method, path, payload, out, reqID)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := KindOf(err)
		if !retryable(kind) {
			return err
		}
		if kind == KindUnknown && attempt > 1 {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffStep * time.Duration(attempt)
		c.log.Debug("retrying request",
			zap.String("request_id", reqID),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &Error{Kind: KindNetwork, Message: ctx.Err().Error()}
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any, reqID string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.base+path, reader)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// transport failures and timeouts are all network-class
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: errorMessage(respBody, resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: err.Error()}
		}
	}
	return nil
}

// errorMessage pulls a {"message": ...} body if present, otherwise the raw
// body trimmed, otherwise the status text.
func errorMessage(body []byte, status int) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
