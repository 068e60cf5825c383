// Package sdn implements the SDN-controller collaborator client: RESTCONF
// calls against the OpenDaylight-style network-topology and OVSDB
// northbound, used by the topology builder, the QoS installer, and the
// flow programmer.
package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Cloudslab/sdcon/internal/obs"
	"github.com/Cloudslab/sdcon/internal/sdcerr"
)

// Config describes how to reach the SDN controller's RESTCONF endpoint.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a thin RESTCONF client bound to one SDN controller.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client with a sane default timeout if cfg.Timeout is zero.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sdn: building request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sdcerr.NewUnreachable("sdn-controller", url, err)
	}
	return resp, nil
}

// PutJSON performs a RESTCONF mutating PUT and expects 200 or 201. It
// pauses 300ms afterward to respect the controller's commit latency,
// mirroring the pacing every mutation in this collaborator requires.
func (c *Client) PutJSON(ctx context.Context, path string, body []byte) error {
	resp, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer pace()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sdn: PUT %s: unexpected status %d: %s", path, resp.StatusCode, data)
	}
	return nil
}

// Delete performs a RESTCONF DELETE. Non-200 responses are logged, not
// returned as errors: teardown calls are idempotent by design.
func (c *Client) Delete(ctx context.Context, path string) {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		obs.WithComponent("sdn").Warnf("delete %s: %v", path, err)
		return
	}
	defer resp.Body.Close()
	defer pace()

	if resp.StatusCode != http.StatusOK {
		obs.WithComponent("sdn").Warnf("delete %s: unexpected status %d", path, resp.StatusCode)
	}
}

// GetJSON performs a RESTCONF GET and decodes a 200 response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sdn: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdn: decoding response from %s: %w", path, err)
	}
	return nil
}

// VerifyPresence polls path up to 5 times with 1s between attempts until
// a GET returns 200, returning a VerificationError if it never does. This
// is the retry discipline required after every QoS/binding mutation.
func (c *Client) VerifyPresence(ctx context.Context, path string) error {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		resp, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return sdcerr.NewVerificationFailed(path, attempts)
}

func pace() {
	time.Sleep(300 * time.Millisecond)
}
