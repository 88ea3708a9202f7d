// Package snapshot implements the Snapshot Hub adapter: an off-chain
// signature-based voting platform queried over its public GraphQL API. No
// example repo in the retrieval pack imports a GraphQL client library, so
// requests are built and decoded directly over net/http + encoding/json,
// the same way mapper's HTTPEmbedder talks to an external HTTP service.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"governanceagg/observability"
)

// Client is a rate-limited GraphQL client bound to one Hub endpoint.
type Client struct {
	HubURL     string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client rate-limited to requestsPerMinute (spec default
// is 60 requests per 60 seconds).
func NewClient(hubURL string, requestsPerMinute int) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Client{
		HubURL:     hubURL,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
	}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Query issues a GraphQL request against the Hub and decodes the "data"
// field into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("snapshot: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.HubURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("snapshot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	observability.Adapter().Observe("snapshot", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("snapshot: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		observability.Adapter().RecordThrottle("snapshot", "429")
		return fmt.Errorf("snapshot: hub returned 429")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot: hub returned status %d", resp.StatusCode)
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("snapshot: decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("snapshot: graphql error: %s", parsed.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(parsed.Data, out)
}
