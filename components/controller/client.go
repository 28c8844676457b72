package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adammck/biped"
	"github.com/pkg/errors"
)

const (
	// Long enough to cover the settle wait in SetParameters.
	DefaultClientTimeout = 10 * time.Second
)

// Client calls a remote controller over HTTP.
type Client struct {
	base       string
	httpClient *http.Client
}

// NewClient creates a client for the controller at the given base URL, e.g.
// "http://biped.local:5000".
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetParameters sends every field of the given parameters.
func (c *Client) SetParameters(ctx context.Context, p biped.Parameters) error {
	body, err := json.Marshal(p.Fields())
	if err != nil {
		return errors.Wrap(err, "while encoding parameters")
	}

	return c.post(ctx, "/set_params", body, biped.ErrBadRequest)
}

func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, "/start", nil, biped.ErrNotReady)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop", nil, biped.ErrBadRequest)
}

func (c *Client) Status(ctx context.Context) (biped.RunState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return biped.RunState{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return biped.RunState{}, errors.Wrap(err, "while requesting status")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return biped.RunState{}, fmt.Errorf("status returned %d: %s", resp.StatusCode, b)
	}

	var sr StatusResponse
	err = json.NewDecoder(resp.Body).Decode(&sr)
	if err != nil {
		return biped.RunState{}, errors.Wrap(err, "while decoding status")
	}

	return biped.RunState{
		Running:            sr.Running,
		ParametersReceived: sr.ParametersReceived,
	}, nil
}

// post sends a request, and wraps rejections (400) in the given sentinel so
// callers can tell them apart from transport errors.
func (c *Client) post(ctx context.Context, path string, body []byte, rejected error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "while requesting %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var r Response
	b, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(b, &r) != nil || r.Message == "" {
		r.Message = strings.TrimSpace(string(b))
	}

	if resp.StatusCode == http.StatusBadRequest {
		return errors.Wrapf(rejected, "%s: %s", path, r.Message)
	}

	return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, r.Message)
}
