package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// restClient calls API endpoints the cloudflare-go client does not cover.
type restClient struct {
	baseURL string
	token   string
	http    Httper
}

func newRESTClient(baseURL, token string, http Httper) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    http,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RequestError is a failed API call. It reports the API error codes so that
// callers can classify it.
type RequestError struct {
	Method   string
	Path     string
	Status   int
	Messages []apiMessage
}

func (e *RequestError) Error() string {
	var parts []string
	for _, m := range e.Messages {
		parts = append(parts, fmt.Sprintf("%d: %s", m.Code, m.Message))
	}
	return fmt.Sprintf("cloudflare api request %s %s, status=%d, errors=[%s]", e.Method, e.Path, e.Status, strings.Join(parts, "; "))
}

func (e *RequestError) ErrorCodes() []int {
	codes := make([]int, 0, len(e.Messages))
	for _, m := range e.Messages {
		codes = append(codes, m.Code)
	}
	return codes
}

func (e *RequestError) ErrorMessages() []string {
	messages := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		messages = append(messages, m.Message)
	}
	return messages
}

// do sends body as JSON and decodes the result field of the response
// envelope into out.
func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body, err=%w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Default().Warn("fail close response body", "path", path, "error", err)
		}
	}()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode, Messages: env.Errors}
	}
	if decodeErr != nil {
		return fmt.Errorf("parse cloudflare response, err=%w", decodeErr)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("parse cloudflare result, err=%w", err)
	}
	return nil
}
