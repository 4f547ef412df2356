// Package client talks to the PencilParty REST API. Every call goes through one request
// pipeline: it attaches the bearer token, retries transient failures with exponential
// backoff, and on a rejected session refreshes once and replays the call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL    = "http://localhost:3000/api"
	DefaultTimeout    = 10 * time.Second
	DefaultRetryTimes = 3
	DefaultRetryDelay = time.Second
	DefaultMultiplier = 2.0
	DefaultCatalogTTL = 5 * time.Minute

	maxResponseBytes = 10 << 20
)

// ErrSessionExpired means the stored session could not be refreshed. Local credentials
// have been cleared and the user has to log in again.
var ErrSessionExpired = errors.New("session expired")

// Error is a failure reported by the server.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// HasCode reports whether err carries the server error code code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// transportError marks a failure below HTTP: dial, timeout, reset.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type Options struct {
	BaseURL string
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	// RetryTimes is the total number of attempts made for transient failures.
	RetryTimes int
	RetryDelay time.Duration
	// Multiplier grows the delay after every failed attempt.
	Multiplier float64
	Platform   string
	CatalogTTL time.Duration

	Tokens     TokenStore
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

type Client struct {
	base       string
	http       *http.Client
	tokens     TokenStore
	log        *logrus.Logger
	platform   string
	attempts   int
	delay      time.Duration
	multiplier float64
	catalogTTL time.Duration

	refreshing singleflight.Group
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	catalogMu sync.Mutex
	catalog   []models.GameType
	catalogAt time.Time
}

// New builds a Client, filling zero options with the defaults.
func New(opts Options) *Client {
	c := &Client{
		base:       strings.TrimSuffix(opts.BaseURL, "/"),
		http:       opts.HTTPClient,
		tokens:     opts.Tokens,
		log:        opts.Logger,
		platform:   opts.Platform,
		attempts:   opts.RetryTimes,
		delay:      opts.RetryDelay,
		multiplier: opts.Multiplier,
		catalogTTL: opts.CatalogTTL,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	if c.base == "" {
		c.base = DefaultBaseURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokens()
	}
	if c.log == nil {
		c.log = logrus.New()
	}
	if c.platform == "" {
		c.platform = "cli"
	}
	if c.attempts <= 0 {
		c.attempts = DefaultRetryTimes
	}
	if c.delay <= 0 {
		c.delay = DefaultRetryDelay
	}
	if c.multiplier < 1 {
		c.multiplier = DefaultMultiplier
	}
	if c.catalogTTL <= 0 {
		c.catalogTTL = DefaultCatalogTTL
	}
	return c
}

// Do runs one logical request and decodes the envelope's data into out, which may be nil.
// A TOKEN_EXPIRED or INVALID_TOKEN response triggers a single refresh-and-replay.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
	}

	sess, err := c.tokens.Load()
	if err != nil {
		return err
	}
	token := sess.AccessToken

	err = c.send(ctx, method, path, payload, token, out)
	if token == "" || !sessionRejected(err) {
		return err
	}

	fresh, err := c.refresh(ctx, token)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, payload, fresh, out)
}

func sessionRejected(err error) bool {
	return HasCode(err, api.CodeTokenExpired) || HasCode(err, api.CodeInvalidToken)
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refresh trades the stored refresh token for a new pair. Callers rejected with the same
// stale access token share one in-flight refresh, and a caller arriving after another has
// already refreshed just picks up the new token.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refreshing.Do("refresh", func() (interface{}, error) {
		sess, err := c.tokens.Load()
		if err != nil {
			return "", err
		}
		if sess.AccessToken != "" && sess.AccessToken != stale {
			return sess.AccessToken, nil
		}
		if sess.RefreshToken == "" {
			c.expire()
			return "", ErrSessionExpired
		}

		body, _ := json.Marshal(map[string]string{"refreshToken": sess.RefreshToken})
		var pair tokenPair
		// detached so one caller giving up does not fail everyone sharing the refresh
		if err := c.send(context.WithoutCancel(ctx), http.MethodPost, "/auth/refresh", body, "", &pair); err != nil {
			c.log.WithError(err).Warn("session refresh failed")
			c.expire()
			return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}

		// a logout or new login during the refresh wins over the rotated pair
		err = c.tokens.Update(func(s *Session) bool {
			if s.RefreshToken != sess.RefreshToken {
				return false
			}
			s.AccessToken, s.RefreshToken = pair.AccessToken, pair.RefreshToken
			return true
		})
		if err != nil {
			return "", fmt.Errorf("save refreshed session: %w", err)
		}
		c.log.Debug("session refreshed")
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) expire() {
	if err := c.tokens.Clear(); err != nil {
		c.log.WithError(err).Warn("clear session")
	}
}

// send makes up to c.attempts attempts, backing off between transient failures.
// Every attempt carries the same request id.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, out interface{}) error {
	requestID := uuid.NewString()
	delay := c.delay
	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, method, path, payload, token, requestID, out)
		if err == nil || !transient(err) || attempt >= c.attempts || ctx.Err() != nil {
			return err
		}

		c.log.WithFields(logrus.Fields{
			"method":     method,
			"path":       path,
			"attempt":    attempt,
			"request_id": requestID,
			"delay":      delay,
		}).WithError(err).Warn("request failed, retrying")

		if serr := c.sleep(ctx, delay); serr != nil {
			return err
		}
		delay = time.Duration(float64(delay) * c.multiplier)
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, token, requestID string, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Platform", c.platform)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: err}
	}

	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &Error{Status: resp.StatusCode, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &Error{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return nil
}

// transient reports whether a failed attempt is worth repeating: transport failures and
// gateway statuses. A plain 500 is terminal.
func transient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return !errors.Is(err, context.Canceled)
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
