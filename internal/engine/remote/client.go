// Package remote implements engine.Engine against an HTTP rendering endpoint.
// The same client drives the hosted image API and the browser-automation
// sidecar; the latter is addressed once per credential so every credential
// becomes its own dispatch slot.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"drawd/internal/engine"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Path of the generation endpoint relative to BaseURL (default /v1/images/generations).
	Path   string
	APIKey string
	Model  string
	// Credential is forwarded in CredentialHeader (default X-Engine-Credential) when set.
	Credential       string
	CredentialHeader string
	RequestTimeout   time.Duration
	ConnectTimeout   time.Duration
}

// Client talks to one rendering endpoint.
type Client struct {
	baseURL    string
	path       string
	apiKey     string
	model      string
	credential string
	credHeader string
	reqTimeout time.Duration
	httpClient *http.Client
}

// New constructs a Client. Zero timeouts fall back to package defaults.
func New(opts Options) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	path := opts.Path
	if path == "" {
		path = "/v1/images/generations"
	}
	header := opts.CredentialHeader
	if header == "" {
		header = "X-Engine-Credential"
	}
	// Timeout stays 0: every request carries its own context deadline.
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		path:       "/" + strings.TrimLeft(path, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		credential: opts.Credential,
		credHeader: header,
		reqTimeout: opts.RequestTimeout,
		httpClient: &http.Client{Transport: tr},
	}
}

type generateRequest struct {
	Model    string   `json:"model,omitempty"`
	Prompt   string   `json:"prompt"`
	Template string   `json:"template,omitempty"`
	Images   [][]byte `json:"images,omitempty"`
}

type generateResponse struct {
	Images [][]byte `json:"images"`
	Text   string   `json:"text"`
	Error  string   `json:"error"`
	// Code is an optional machine-readable reason supplied by the backend.
	Code string `json:"code"`
}

// Execute posts the job and classifies any failure.
func (c *Client) Execute(ctx context.Context, job engine.Job) (engine.Artifact, error) {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: job.Prompt, Template: job.Template, Images: job.Images})
	if err != nil {
		return engine.Artifact{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return engine.Artifact{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return engine.Artifact{}, err
		}
		return engine.Artifact{}, engine.Transient(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return engine.Artifact{}, engine.Transient(fmt.Errorf("read body: %w", err))
	}
	var out generateResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return engine.Artifact{}, classifyStatus(resp.StatusCode, out.Code, msg)
	}
	if decodeErr != nil {
		return engine.Artifact{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	if out.Error != "" {
		return engine.Artifact{}, classifyStatus(http.StatusOK, out.Code, out.Error)
	}
	return engine.Artifact{Images: out.Images, Text: out.Text}, nil
}

// HealthCheck probes GET /healthz with a short deadline.
func (c *Client) HealthCheck(ctx context.Context) engine.Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return engine.Unavailable
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engine.Unavailable
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return engine.Unavailable
	}
	return engine.Available
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.credential != "" {
		req.Header.Set(c.credHeader, c.credential)
	}
}

// classifyStatus maps an HTTP status (and optional backend code) to an error kind.
func classifyStatus(status int, code, msg string) error {
	err := fmt.Errorf("backend status %d: %s", status, msg)
	switch strings.ToLower(code) {
	case "content_policy", "content_filter", "moderation":
		return engine.ContentPolicy(err)
	case "credential", "unauthorized", "login_required", "captcha":
		return engine.Credential(err)
	case "rate_limited", "overloaded", "timeout":
		return engine.Transient(err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return engine.Credential(err)
	case status == http.StatusUnprocessableEntity || status == http.StatusUnavailableForLegalReasons:
		return engine.ContentPolicy(err)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return engine.Transient(err)
	default:
		return err
	}
}
