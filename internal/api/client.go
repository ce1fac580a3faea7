package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"door-monitor/internal/model"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Detail)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type LoginResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
}

type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out LoginResult
	if err := c.do(req, &out); err != nil {
		return LoginResult{}, err
	}
	if out.AccessToken == "" {
		return LoginResult{}, errors.New("login response without access_token")
	}
	return out, nil
}

func (c *Client) Me(ctx context.Context, token string) (Identity, error) {
	var out Identity
	err := c.get(ctx, token, "/api/users/me", &out)
	return out, err
}

func (c *Client) LatestStatus(ctx context.Context, token string) (model.TelemetrySnapshot, error) {
	var rec statusRecord
	if err := c.get(ctx, token, "/api/door-status/latest", &rec); err != nil {
		return model.TelemetrySnapshot{}, err
	}
	entry, err := rec.entry()
	if err != nil {
		return model.TelemetrySnapshot{}, err
	}
	return entry.Snapshot(false), nil
}

func (c *Client) History(ctx context.Context, token string) ([]model.HistoryEntry, error) {
	var recs []statusRecord
	if err := c.get(ctx, token, "/api/door-status/history", &recs); err != nil {
		return nil, err
	}
	entries := make([]model.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entry, err := rec.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) ListUsers(ctx context.Context, token string) ([]model.ManagedUser, error) {
	var recs []userRecord
	if err := c.get(ctx, token, "/api/users", &recs); err != nil {
		return nil, err
	}
	users := make([]model.ManagedUser, 0, len(recs))
	for _, rec := range recs {
		users = append(users, rec.user())
	}
	return users, nil
}

func (c *Client) CreateUser(ctx context.Context, token string, u model.NewUser) (model.ManagedUser, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return model.ManagedUser{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, token, "/api/users", bytes.NewReader(body))
	if err != nil {
		return model.ManagedUser{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var rec userRecord
	if err := c.do(req, &rec); err != nil {
		return model.ManagedUser{}, err
	}
	return rec.user(), nil
}

func (c *Client) DeleteUser(ctx context.Context, token string, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, token, "/api/users/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, token, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, token, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// readDetail extracts {"detail": "..."} or {"error": "..."} from an error body.
func readDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if s, ok := body.Detail.(string); ok && s != "" {
		return s
	}
	return body.Error
}
