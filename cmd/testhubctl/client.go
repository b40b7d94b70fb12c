package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API base paths as mounted by the server.
const (
	executionsAPI    = "/api/executions/v1alpha1"
	defectsAPI       = "/api/defects/v1alpha1"
	gatesAPI         = "/api/gates/v1alpha1"
	notificationsAPI = "/api/notifications/v1alpha1"
	auditAPI         = "/api/audit/v1alpha1"
	tenancyAPI       = "/api/tenancy/v1alpha1"
)

type testhubClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *testhubClient {
	return &testhubClient{
		baseURL: serverURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do performs one request against the server. The program, principal, and
// role resolved from flags and environment ride along as headers. A non-2xx
// response becomes an error carrying the server's message.
func (c *testhubClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p := resolvedProgram(); p != "" {
		req.Header.Set("X-Program", p)
	}
	if u := resolvedPrincipal(); u != "" {
		req.Header.Set("X-User-Principal", u)
	}
	if role := resolvedRole(); role != "" {
		req.Header.Set("X-User-Role", role)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *testhubClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *testhubClient) postJSON(path string, body any, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *testhubClient) putJSON(path string, body any, v any) error {
	return c.do(http.MethodPut, path, body, v)
}

func (c *testhubClient) patchJSON(path string, body any, v any) error {
	return c.do(http.MethodPatch, path, body, v)
}

func (c *testhubClient) deleteJSON(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}

// getRaw performs a GET request and returns the raw JSON document.
func (c *testhubClient) getRaw(path string) (map[string]any, error) {
	var result map[string]any
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// queryString builds a URL query suffix, skipping empty values.
func queryString(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
