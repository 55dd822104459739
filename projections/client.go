// Package projections implements the projections administration HTTP
// client (spec §6.B), a collaborator deliberately kept outside the core:
// a thin net/http client over the REST surface, with status-code to
// outcome mapping table-driven in the style of the teacher's
// message/codec constant tables.
package projections

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riverlog/riverlog-go/types"
)

// Mode is the projection execution mode named in the POST path.
type Mode string

const (
	ModeOneTime    Mode = "onetime"
	ModeContinuous Mode = "continuous"
	ModeTransient  Mode = "transient"
)

// Outcome is the typed result of an administration call (spec §6.B).
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeDeleted
	OutcomeAlreadyExists
	OutcomeNotFound
	OutcomeUnableToDelete
	OutcomeOK
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "Created"
	case OutcomeDeleted:
		return "Deleted"
	case OutcomeAlreadyExists:
		return "AlreadyExists"
	case OutcomeNotFound:
		return "NotFound"
	case OutcomeUnableToDelete:
		return "UnableToDelete"
	case OutcomeOK:
		return "OK"
	default:
		return "Unknown"
	}
}

// Client talks to one riverlog node's projections HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
	auth    *BasicAuth
}

// BasicAuth carries optional HTTP basic credentials for administration
// calls.
type BasicAuth struct {
	Username string
	Password string
}

// NewClient builds a Client against baseURL (e.g. "http://localhost:2113").
func NewClient(baseURL string, auth *BasicAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		auth:    auth,
	}
}

// Create starts a new projection of the given mode (spec §6.B: "POST
// /projections/{mode}?name=...&type=JS&emit=...").
func (c *Client) Create(ctx context.Context, mode Mode, name, javascript string, emitEnabled bool) (Outcome, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("type", "JS")
	q.Set("emit", boolParam(emitEnabled))
	path := fmt.Sprintf("/projections/%s?%s", mode, q.Encode())
	return c.do(ctx, http.MethodPost, path, strings.NewReader(javascript), outcomeTableCreate)
}

// Query returns the raw projection status/state body (spec §6.B: "GET
// /projection/{name}").
func (c *Client) Query(ctx context.Context, name string) ([]byte, Outcome, error) {
	return c.fetch(ctx, fmt.Sprintf("/projection/%s", name))
}

// State returns a projection's current persisted state (spec §6.B: "GET
// /projection/{name}/state").
func (c *Client) State(ctx context.Context, name string) ([]byte, Outcome, error) {
	return c.fetch(ctx, fmt.Sprintf("/projection/%s/state", name))
}

// Result returns a one-time projection's terminal result (spec §6.B: "GET
// /projection/{name}/result").
func (c *Client) Result(ctx context.Context, name string) ([]byte, Outcome, error) {
	return c.fetch(ctx, fmt.Sprintf("/projection/%s/result", name))
}

// Enable resumes a stopped projection (spec §6.B: "POST
// /projection/{name}/command/enable").
func (c *Client) Enable(ctx context.Context, name string) (Outcome, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projection/%s/command/enable", name), nil, outcomeTableCommand)
}

// Disable pauses a running projection (spec §6.B: "POST
// /projection/{name}/command/disable").
func (c *Client) Disable(ctx context.Context, name string) (Outcome, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projection/%s/command/disable", name), nil, outcomeTableCommand)
}

// Delete removes a projection permanently (spec §6.B: "DELETE
// /projection/{name}").
func (c *Client) Delete(ctx context.Context, name string) (Outcome, error) {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projection/%s", name), nil, outcomeTableDelete)
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, OutcomeNotFound, err
	}
	c.applyAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, OutcomeNotFound, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, OutcomeNotFound, err
	}

	outcome, err := statusToOutcome(resp.StatusCode, outcomeTableQuery)
	return body, outcome, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, table map[int]Outcome) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return OutcomeNotFound, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return OutcomeNotFound, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return statusToOutcome(resp.StatusCode, table)
}

func (c *Client) applyAuth(req *http.Request) {
	if c.auth != nil {
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	}
}

// outcomeTableCreate/Command/Delete/Query are the status-code to Outcome
// mappings spec §6.B lists: "Responses 200/201/404/409/500 map to
// Created, Deleted, AlreadyExists, NotFound, UnableToDelete(reason);
// 401 maps to AccessDenied."
var outcomeTableCreate = map[int]Outcome{
	http.StatusCreated: OutcomeCreated,
	http.StatusConflict: OutcomeAlreadyExists,
}

var outcomeTableCommand = map[int]Outcome{
	http.StatusOK:       OutcomeOK,
	http.StatusNotFound: OutcomeNotFound,
}

var outcomeTableDelete = map[int]Outcome{
	http.StatusOK:                  OutcomeDeleted,
	http.StatusNotFound:            OutcomeNotFound,
	http.StatusInternalServerError: OutcomeUnableToDelete,
}

var outcomeTableQuery = map[int]Outcome{
	http.StatusOK:       OutcomeOK,
	http.StatusNotFound: OutcomeNotFound,
}

func statusToOutcome(status int, table map[int]Outcome) (Outcome, error) {
	if status == http.StatusUnauthorized {
		return OutcomeNotFound, &types.AccessDeniedError{}
	}
	if status == http.StatusInternalServerError {
		return OutcomeUnableToDelete, fmt.Errorf("projections: server error (status %d)", status)
	}
	if outcome, ok := table[status]; ok {
		return outcome, nil
	}
	return OutcomeNotFound, fmt.Errorf("projections: unexpected status %d", status)
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
