package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// StatusError is returned by HTTPSource for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

// HTTPSource fetches rows from a JSON endpoint answering GET requests with
// {"data": [...], "extensions": {...}}. APIs with another shape are read
// through gjson paths instead.
type HTTPSource[T any] struct {
	URL     string
	Client  *http.Client
	Headers http.Header
	// DataPath locates the row array, e.g. "results.items".
	DataPath string
	// TotalPath locates the unpaged row count, stored under TotalKey.
	TotalPath string
}

// NewHTTPSource returns a source for url using a traced client.
func NewHTTPSource[T any](url string) *HTTPSource[T] {
	return &HTTPSource[T]{
		URL: url,
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
}

// Fetch issues the GET request with the encoded query string.
func (s *HTTPSource[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	target := s.URL
	if req.QueryString != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.QueryString
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range s.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if s.DataPath == "" && s.TotalPath == "" {
		var result Result[T]
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", target, err)
		}
		return &result, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", target, err)
	}
	result, err := s.extract(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return result, nil
}

func (s *HTTPSource[T]) extract(body []byte) (*Result[T], error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON")
	}

	result := &Result[T]{}
	dataPath := s.DataPath
	if dataPath == "" {
		dataPath = "data"
	}
	rows := gjson.GetBytes(body, dataPath)
	if !rows.IsArray() {
		return nil, fmt.Errorf("%s is not an array", dataPath)
	}
	if err := json.Unmarshal([]byte(rows.Raw), &result.Data); err != nil {
		return nil, err
	}

	if s.TotalPath != "" {
		total := gjson.GetBytes(body, s.TotalPath)
		if total.Type != gjson.Number {
			return nil, fmt.Errorf("%s is not a number", s.TotalPath)
		}
		result.Extensions = extension.Fragment{}
		TotalKey.Put(result.Extensions, int(total.Int()))
	}
	return result, nil
}
