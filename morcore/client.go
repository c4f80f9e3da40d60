package morcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mor/automatr/rules"
)

const tokenPath = "/api-token-auth/"

// ErrForeignHost is returned for an absolute reference outside the configured
// MOR-Core host; the API token is never sent there
var ErrForeignHost = errors.New("mor-core: reference points at another host")

// APIError is a non-2xx answer from MOR-Core
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("mor-core: status %d", e.StatusCode)
	}
	return fmt.Sprintf("mor-core: status %d: %s", e.StatusCode, e.Reason)
}

// Options configures a Client
type Options struct {
	BaseURL  string
	User     string
	Password string
	// TokenTimeout is how long a token is reused; 0 fetches one per request
	TokenTimeout time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client talks to the MOR-Core case-management API.
// It implements rules.CaseFetcher and rules.CaseActions.
type Client struct {
	base         *url.URL
	user         string
	password     string
	tokenTimeout time.Duration
	http         *http.Client
	logger       *slog.Logger

	mu      sync.Mutex
	token   string
	tokenAt time.Time
}

var (
	_ rules.CaseFetcher = (*Client)(nil)
	_ rules.CaseActions = (*Client)(nil)
)

// New creates a client for the API at opts.BaseURL
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid MOR-Core url %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:         base,
		user:         opts.User,
		password:     opts.Password,
		tokenTimeout: opts.TokenTimeout,
		http:         hc,
		logger:       logger,
	}, nil
}

// FetchCase retrieves the case document behind ref, an absolute URL or an API path
func (c *Client) FetchCase(ctx context.Context, ref string) (map[string]any, error) {
	var melding map[string]any
	if err := c.do(ctx, http.MethodGet, ref, nil, &melding); err != nil {
		return nil, err
	}
	if melding == nil {
		return nil, errors.New("mor-core: empty case document")
	}
	return melding, nil
}

// ResolveCase closes the case with the given fields
func (c *Client) ResolveCase(ctx context.Context, caseID string, fields map[string]any) error {
	return c.do(ctx, http.MethodPatch, casePath(caseID, "afhandelen"), withoutCaseID(fields), nil)
}

// CreateSubtask creates a sub-task (taakopdracht) on the case
func (c *Client) CreateSubtask(ctx context.Context, caseID string, fields map[string]any) error {
	return c.do(ctx, http.MethodPost, casePath(caseID, "taakopdracht"), withoutCaseID(fields), nil)
}

// AddNote posts an internal note on the case timeline
func (c *Client) AddNote(ctx context.Context, caseID, note, user string) error {
	body := map[string]any{
		"bijlagen":            []any{},
		"omschrijving_intern": note,
		"gebruiker":           user,
	}
	return c.do(ctx, http.MethodPost, casePath(caseID, "gebeurtenis-toevoegen"), body, nil)
}

// LookupTaskType finds the task type registered for a task-application
// task-type URL. No match returns nil without error; several matches are an error.
func (c *Client) LookupTaskType(ctx context.Context, ref string) (*rules.TaskType, error) {
	path := "/api/v1/taaktype/?" + url.Values{"taakapplicatie_taaktype_url": {ref}}.Encode()

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	results := gjson.GetBytes(raw, "results").Array()
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("mor-core: %d task types registered for %s", len(results), ref)
	}

	tt := results[0]
	return &rules.TaskType{
		URL:   firstNonEmpty(tt.Get("_links.self.href").String(), ref),
		Title: tt.Get("omschrijving").String(),
	}, nil
}

func (c *Client) do(ctx context.Context, method, ref string, body, out any) error {
	target, err := c.resolve(ref)
	if err != nil {
		return err
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("mor-core request", "method", method, "url", target,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Reason: reason(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", target, err)
	}
	return nil
}

func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.tokenTimeout > 0 && time.Since(c.tokenAt) < c.tokenTimeout {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"username": c.user, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Reason: reason(data)}
	}

	token := gjson.GetBytes(data, "token").String()
	if token == "" {
		return "", errors.New("mor-core: token response carries no token")
	}
	if c.tokenTimeout > 0 {
		c.token = token
		c.tokenAt = time.Now()
	}
	return token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// resolve turns an absolute URL on the configured host or an API path into a URL
func (c *Client) resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("mor-core: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("mor-core: invalid reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		if !strings.EqualFold(u.Host, c.base.Host) {
			c.logger.Warn("refusing reference outside mor-core", "url", ref, "host", c.base.Host)
			return "", fmt.Errorf("%w: %s", ErrForeignHost, u.Host)
		}
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}

func casePath(caseID, action string) string {
	return fmt.Sprintf("/api/v1/melding/%s/%s/", url.PathEscape(caseID), action)
}

func withoutCaseID(fields map[string]any) map[string]any {
	body := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != rules.FieldCaseID {
			body[k] = v
		}
	}
	return body
}

// reason extracts a human-readable message from an error body
func reason(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"detail", "error", "non_field_errors.0"} {
			if r := gjson.GetBytes(body, path); r.Exists() {
				return r.String()
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
