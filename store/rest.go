package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RESTStore is the remote backend speaking the single-command HTTP protocol
// of managed Redis-compatible stores: each request POSTs one command as a
// JSON array and receives {"result": ...} or {"error": "..."}.
type RESTStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRESTStore creates a remote store client and verifies reachability.
func NewRESTStore(ctx context.Context, baseURL, token string) (*RESTStore, error) {
	s := &RESTStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if !s.Ping(ctx) {
		return nil, fmt.Errorf("remote store at %s is not reachable", baseURL)
	}
	return s, nil
}

type restResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// command executes one store command and returns its raw result.
func (s *RESTStore) command(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode store command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read store response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store returned HTTP %d: %s", resp.StatusCode, payload)
	}

	var result restResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("malformed store response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("store command failed: %s", result.Error)
	}
	return result.Result, nil
}

// Put issues SET key value EX ttl as one command, keeping the write atomic.
func (s *RESTStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %s: %w", key, err)
	}
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err = s.command(ctx, "SET", key, string(data), "EX", strconv.Itoa(seconds))
	return err
}

// Get fetches a key; a JSON null result means the key is absent or expired.
func (s *RESTStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.command(ctx, "GET", key)
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("malformed store value for %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// SetMeta writes the metadata triple as three separate commands.
func (s *RESTStore) SetMeta(ctx context.Context, name, status string, errorCount int) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if _, err := s.command(ctx, "SET", metaKey(name, "status"), status); err != nil {
		return err
	}
	if _, err := s.command(ctx, "SET", metaKey(name, "last-run"), now); err != nil {
		return err
	}
	_, err := s.command(ctx, "SET", metaKey(name, "error-count"), strconv.Itoa(errorCount))
	return err
}

// GetMeta reads the metadata triple for a collector.
func (s *RESTStore) GetMeta(ctx context.Context, name string) (Meta, error) {
	meta := Meta{Status: StatusUnknown}

	status, found, err := s.Get(ctx, metaKey(name, "status"))
	if err != nil {
		return meta, err
	}
	if !found {
		return meta, nil
	}
	meta.Status = string(status)

	if raw, found, err := s.Get(ctx, metaKey(name, "last-run")); err == nil && found {
		if ms, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			meta.LastRun = ms
		}
	}
	if raw, found, err := s.Get(ctx, metaKey(name, "error-count")); err == nil && found {
		if n, perr := strconv.Atoi(string(raw)); perr == nil {
			meta.ErrorCount = n
		}
	}
	return meta, nil
}

// Ping issues a PING command.
func (s *RESTStore) Ping(ctx context.Context) bool {
	_, err := s.command(ctx, "PING")
	return err == nil
}

// Keys lists keys under a prefix.
func (s *RESTStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	raw, err := s.command(ctx, "KEYS", prefix+"*")
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("malformed key listing: %w", err)
	}
	return keys, nil
}

// Close is a no-op for the HTTP backend.
func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
