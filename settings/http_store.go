package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPStore reads the settings collection from a remote settings service.
// The collection is either a bare JSON array or a paginated object with a
// "results" array; each item carries "key" and/or "name" (or "naam") and
// "variables" (or "variabelen").
type HTTPStore struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPStore creates a store reading the collection at url
func NewHTTPStore(url string, timeout time.Duration, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// List fetches the collection. Items without any identifying field are skipped.
func (s *HTTPStore) List(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build settings request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch settings: unexpected status %d", resp.StatusCode)
	}

	return parseCollection(body, s.logger)
}

func parseCollection(body []byte, logger *slog.Logger) ([]Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("settings response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	items := root
	if root.IsObject() {
		items = root.Get("results")
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("settings response has no collection")
	}

	var entries []Entry
	items.ForEach(func(_, item gjson.Result) bool {
		e := Entry{
			Key:  item.Get("key").String(),
			Name: firstString(item, "name", "naam"),
		}
		if e.Key == "" && e.Name == "" {
			logger.Debug("skipping settings item without key or name", "item", item.Raw)
			return true
		}
		if v := firstResult(item, "variables", "variabelen"); v.Exists() {
			e.Variables = json.RawMessage(v.Raw)
		}
		entries = append(entries, e)
		return true
	})

	return entries, nil
}

func firstResult(item gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := item.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(item gjson.Result, paths ...string) string {
	return firstResult(item, paths...).String()
}
