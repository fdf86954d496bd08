// Package httpx is the default production implementation of
// backend.HTTPClient (spec.md §6), the small seam the HDFS (WebHDFS) and
// WebDAV backends are built against. Tests wire their own fake instead of
// this adapter.
package httpx

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/NVIDIA/mscfile/backend"
)

// Client adapts *http.Client to backend.HTTPClient.
type Client struct {
	HTTP *http.Client
}

// New returns a Client with a sane default transport. Redirects are
// followed with their original method/body preserved (net/http already
// does this for bodies backed by bytes.Reader/bytes.Buffer/strings.Reader
// via the automatic GetBody it sets in http.NewRequest), which is exactly
// what WebHDFS's CREATE/APPEND 307-redirect-to-datanode protocol needs
// (spec.md §4.11 "redirect handling") without this package hand-rolling
// the two-hop dance itself.
func New(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) Do(method, url string, headers map[string]string, body io.Reader, timeout time.Duration) (*backend.HTTPResponse, error) {
	// http.NewRequest only arranges automatic redirect-replay (GetBody) for
	// a handful of concrete Reader types, so a caller-provided io.Reader of
	// unknown concrete type is buffered here rather than risk a silently
	// broken redirect on write.
	if body != nil {
		if _, ok := body.(*bytes.Reader); !ok {
			if _, ok := body.(*bytes.Buffer); !ok {
				data, err := io.ReadAll(body)
				if err != nil {
					return nil, err
				}
				body = bytes.NewReader(data)
			}
		}
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := c.HTTP
	if timeout > 0 {
		cp := *c.HTTP
		cp.Timeout = timeout
		client = &cp
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	hdrs := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		hdrs[k] = resp.Header.Get(k)
	}
	return &backend.HTTPResponse{Status: resp.StatusCode, Headers: hdrs, Body: resp.Body}, nil
}

var _ backend.HTTPClient = (*Client)(nil)
