// Package client talks to the overseer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Overseer/internal/api"
	"github.com/CZERTAINLY/Overseer/internal/model"
)

type Client struct {
	base   *url.URL
	client *http.Client
}

type Option func(*Client)

// WithTimeout limits every request, zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New returns a client of the API at server, which must have a scheme and
// no path.
func New(server model.URL, opts ...Option) (*Client, error) {
	if server.URL == nil {
		return nil, errors.New("server url is not set")
	}
	parsedURL := *server.URL
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://127.0.0.1:8080`")
	}

	c := &Client{
		base:   &parsedURL,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit sends spec and returns the id of the admitted task.
func (c *Client) Submit(ctx context.Context, spec model.TaskSpec) (string, error) {
	req := api.SubmitRequest{
		RequestID: uuid.NewString(),
		Spec:      spec,
	}
	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, api.TasksPath, nil, req, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", errors.New("received unexpected body")
	}
	slog.DebugContext(ctx, "task submitted", "task_id", resp.TaskID, "submission_id", req.RequestID)
	return resp.TaskID, nil
}

func (c *Client) Status(ctx context.Context, id string) (model.TaskInfo, error) {
	var resp api.InfoResponse
	err := c.do(ctx, http.MethodGet, api.TasksPath+"/"+url.PathEscape(id), nil, nil, http.StatusOK, &resp)
	return resp.Info, err
}

// List returns tasks, optionally filtered by slot or by status.
func (c *Client) List(ctx context.Context, slot string, status *model.TaskStatus) ([]model.TaskInfo, error) {
	q := url.Values{}
	if slot != "" {
		q.Set("slot", slot)
	}
	if status != nil {
		q.Set("status", status.String())
	}
	var resp api.ListResponse
	err := c.do(ctx, http.MethodGet, api.TasksPath, q, nil, http.StatusOK, &resp)
	return resp.Tasks, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, api.TasksPath+"/"+url.PathEscape(id)+"/cancel", nil, nil, http.StatusNoContent, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, expected int, out any) error {
	u := *c.base
	u.Path = path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return decodeResponse(resp, expected, out)
}

func decodeResponse(resp *http.Response, expected int, out any) error {
	if resp.StatusCode == expected {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return nil
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == api.ProblemContentType {
		var p api.Problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return api.FromProblem(p)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
