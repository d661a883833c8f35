// Package exportjob drives the specimen-requirement export API of the
// biobank server: it logs in, starts per-protocol export jobs, waits for them
// and downloads the resulting archives.
package exportjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TokenHeader carries the session token on authenticated calls.
const TokenHeader = "X-OS-API-TOKEN"

// Job statuses reported by the server.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusStopped   = "STOPPED"
)

var (
	// ErrUnauthorized is wrapped by StatusError for 401 responses.
	ErrUnauthorized = errors.New("exportjob: unauthorized")
	// ErrJobFailed is returned by Wait when a job ends FAILED or STOPPED.
	ErrJobFailed = errors.New("exportjob: job failed")
	// ErrNotLoggedIn is returned by authenticated calls before Login.
	ErrNotLoggedIn = errors.New("exportjob: not logged in")
	// ErrDuplicateArchive marks a protocol whose archive key is already
	// claimed by an earlier protocol of the same export.
	ErrDuplicateArchive = errors.New("exportjob: duplicate archive name")
)

// StatusError describes a non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Credentials authenticate a session.
type Credentials struct {
	LoginName string `json:"loginName"`
	Password  string `json:"password"`
	Domain    string `json:"domainName"`
}

// Config configures a Client. Zero durations and counts fall back to defaults.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// Job is an export job as returned by the server.
type Job struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Done reports whether the job reached a terminal status. An empty status is
// treated as done: some server versions return the finished job directly.
func (j Job) Done() bool {
	switch j.Status {
	case "", StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Failed reports whether the job ended without output.
func (j Job) Failed() bool {
	return j.Status == StatusFailed || j.Status == StatusStopped
}

// Client talks to the export API.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// New builds a Client. A nil logger is replaced by a no-op logger.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: client, cfg: cfg, logger: logger}
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login opens a session and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(creds).
		SetResult(&out).
		Post("/rest/ng/sessions")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := checkStatus("login", resp); err != nil {
		c.logger.Error("login rejected", zap.String("user", creds.LoginName), zap.Int("status_code", resp.StatusCode()))
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("login: response carried no token")
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	c.logger.Info("api session opened", zap.String("user", creds.LoginName))
	return nil
}

func (c *Client) authed(ctx context.Context) (*resty.Request, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	return c.http.R().SetContext(ctx).SetHeader(TokenHeader, token), nil
}

// CreateJob starts a specimen-requirement export for one collection protocol.
func (c *Client) CreateJob(ctx context.Context, cpID string) (Job, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return Job{}, err
	}
	body := map[string]any{
		"objectType": "sr",
		"params":     map[string]string{"cpId": cpID},
	}
	var job Job
	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&job).
		Post("/rest/ng/export-jobs")
	if err != nil {
		return Job{}, fmt.Errorf("create export job for cp %s: %w", cpID, err)
	}
	if err := checkStatus("create export job", resp); err != nil {
		return Job{}, err
	}
	c.logger.Debug("export job created", zap.String("cp_id", cpID), zap.Int64("job_id", job.ID), zap.String("status", job.Status))
	return job, nil
}

// Job fetches the current state of a job.
func (c *Client) Job(ctx context.Context, id int64) (Job, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return Job{}, err
	}
	var job Job
	resp, err := req.SetResult(&job).Get(fmt.Sprintf("/rest/ng/export-jobs/%d", id))
	if err != nil {
		return Job{}, fmt.Errorf("get export job %d: %w", id, err)
	}
	if err := checkStatus("get export job", resp); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Wait polls a job until it is done, PollTimeout elapses or ctx ends.
func (c *Client) Wait(ctx context.Context, id int64) (Job, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			if job.Failed() {
				return job, fmt.Errorf("%w: job %d ended %s", ErrJobFailed, id, job.Status)
			}
			return job, nil
		}
		c.logger.Debug("export job pending", zap.Int64("job_id", id), zap.String("status", job.Status))
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait for export job %d: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Download streams the job output into w and returns the byte count.
func (c *Client) Download(ctx context.Context, id int64, w io.Writer) (int64, error) {
	req, err := c.authed(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := req.SetDoNotParseResponse(true).Get(fmt.Sprintf("/rest/ng/export-jobs/%d/output", id))
	if err != nil {
		return 0, fmt.Errorf("download export job %d: %w", id, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.IsError() {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return 0, &StatusError{Op: "download export job", StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(snippet))}
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("download export job %d: %w", id, err)
	}
	return n, nil
}

func checkStatus(op string, resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode(), Body: body}
}
