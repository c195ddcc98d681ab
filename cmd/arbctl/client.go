package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbexecutor/internal/crypto"
)

// client calls a running executor. Mutating calls are signed with the
// configured wallet.
type client struct {
	baseURL string
	http    *http.Client
	signer  *crypto.Signer
}

func newClient(baseURL string, timeout time.Duration, signer *crypto.Signer) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
	}
}

// do sends the request and returns the raw response body. Non-2xx
// responses become errors carrying the server's message.
func (c *client) do(ctx context.Context, method, path string, body any, signed bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.signer == nil {
			return nil, fmt.Errorf("%s %s needs a wallet key", method, path)
		}
		headers, err := c.signer.Headers(method, path, payload)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			if e.Kind != "" {
				return nil, fmt.Errorf("%s (%s, status %d)", e.Error, e.Kind, resp.StatusCode)
			}
			return nil, fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return data, nil
}
