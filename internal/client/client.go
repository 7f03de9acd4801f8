// Package client talks to the task API on behalf of a single principal.
package client

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
	"time"

	"taskboard/internal/models"
	"taskboard/internal/stats"

	"github.com/gofrs/uuid"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// APIError is a non-2xx answer that maps to no sentinel.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("task api returned %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api". token is sent as a bearer credential.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ListOptions struct {
	Filter string
	Search string
	Limit  int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Filter != "" {
		v.Set("filter", o.Filter)
	}
	if o.Search != "" {
		v.Set("q", o.Search)
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v
}

type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// UpdateRequest sends only the non-nil fields. ClearDueDate removes the
// due date and wins over DueDate.
type UpdateRequest struct {
	Title        *string
	Description  *string
	Status       *models.TaskStatus
	DueDate      *string
	ClearDueDate bool
}

func (r UpdateRequest) body(id uuid.UUID) map[string]interface{} {
	body := map[string]interface{}{"id": id.String()}
	if r.Title != nil {
		body["title"] = *r.Title
	}
	if r.Description != nil {
		body["description"] = *r.Description
	}
	if r.Status != nil {
		body["status"] = string(*r.Status)
	}
	switch {
	case r.ClearDueDate:
		body["dueDate"] = nil
	case r.DueDate != nil:
		body["dueDate"] = *r.DueDate
	}
	return body
}

func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", opts.values(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+id.String(), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CreateTask(ctx context.Context, req CreateRequest) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) UpdateTask(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks", nil, req.body(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id uuid.UUID) error {
	q := url.Values{"id": {id.String()}}
	return c.do(ctx, http.MethodDelete, "/tasks", q, nil, nil)
}

func (c *Client) Stats(ctx context.Context) (stats.TaskStats, error) {
	var s stats.TaskStats
	err := c.do(ctx, http.MethodGet, "/tasks/stats", nil, nil, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}
