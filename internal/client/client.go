package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"rollcall/internal/account"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/report"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status   int
	Code     string
	Message  string
	Conflict *attendance.Session
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Unwrap exposes taxonomy codes so callers can use errors.Is with the
// attendance sentinels.
func (e *APIError) Unwrap() error {
	switch code := attendance.Code(e.Code); code {
	case attendance.CodeAlreadyMarked, attendance.CodeTimeConflict, attendance.CodeSessionNotOpen,
		attendance.CodeMalformedSessionTime, attendance.CodePersistence:
		return &attendance.Error{Code: code, Message: e.Message, Conflict: e.Conflict}
	}
	return nil
}

// Client calls the rollcall HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client with a request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for tokens and keeps the access token.
func (c *Client) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	var out struct {
		auth.TokenPair
		User *account.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return auth.TokenPair{}, err
	}
	c.SetToken(out.AccessToken)
	return out.TokenPair, nil
}

// OpenSessions lists sessions the signed-in student can mark now.
func (c *Client) OpenSessions(ctx context.Context) ([]attendance.SessionView, error) {
	var out struct {
		Sessions []attendance.SessionView `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/open", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// MarkedSessions lists what the student marked on date (today when empty).
func (c *Client) MarkedSessions(ctx context.Context, date string) ([]attendance.MarkedSession, error) {
	path := "/v1/sessions/marked"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out struct {
		Marked []attendance.MarkedSession `json:"marked"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Marked, nil
}

// Mark submits attendance for a session.
func (c *Client) Mark(ctx context.Context, sessionID string) (attendance.Record, error) {
	var rec attendance.Record
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/attendance", nil, &rec)
	return rec, err
}

// SessionStatus returns a session with its current lifecycle.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (attendance.SessionView, error) {
	var v attendance.SessionView
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/status", nil, &v)
	return v, err
}

// CourseReport fetches a course summary as JSON.
func (c *Client) CourseReport(ctx context.Context, courseID string) (report.CourseSummary, error) {
	var s report.CourseSummary
	err := c.do(ctx, http.MethodGet, "/v1/reports/courses/"+url.PathEscape(courseID), nil, &s)
	return s, err
}

// Export downloads a course summary in format (csv, tsv or xlsx) into w.
func (c *Client) Export(ctx context.Context, courseID string, format report.Format, w io.Writer) error {
	path := "/v1/reports/courses/" + url.PathEscape(courseID) + "?format=" + url.QueryEscape(string(format))
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// send performs the request and turns non-2xx responses into *APIError.
// The caller closes the body of successful responses.
func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rollcall request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Error    string              `json:"error"`
			Code     string              `json:"code"`
			Conflict *attendance.Session `json:"conflict"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
			apiErr.Code = body.Code
			apiErr.Conflict = body.Conflict
		}
		return nil, apiErr
	}
	return resp, nil
}
