// Package platform is the HTTP client for the social platform's REST API.
// Every call goes through the rate limiter before the wire and feeds quota
// headers back into it afterwards.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/magpie/internal/ratelimit"
	"github.com/user/magpie/internal/types"
)

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API error (status %d) on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// SessionInvalid reports whether the error means the account's credentials
// no longer work and a retry without re-auth is pointless.
func (e *APIError) SessionInvalid() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TokenSource supplies bearer tokens per account. Refresh is called once
// after a 401 before the call is retried.
type TokenSource interface {
	Token(ctx context.Context, accountID types.AccountID) (string, error)
	Refresh(ctx context.Context, accountID types.AccountID) (string, error)
}

// StaticTokens is a TokenSource backed by a fixed map. Refresh returns the
// same token; a static token that stops working stays broken.
type StaticTokens map[types.AccountID]string

func (s StaticTokens) Token(_ context.Context, accountID types.AccountID) (string, error) {
	token, ok := s[accountID]
	if !ok {
		return "", fmt.Errorf("no token for account %s", accountID)
	}
	return token, nil
}

func (s StaticTokens) Refresh(ctx context.Context, accountID types.AccountID) (string, error) {
	return s.Token(ctx, accountID)
}

// Client calls the platform REST API on behalf of accounts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tokens     TokenSource
}

// NewClient creates a platform client.
func NewClient(baseURL string, limiter *ratelimit.Limiter, tokens TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		tokens:     tokens,
	}
}

// do performs one API call: rate-limit gate, bearer auth, one refresh retry
// on 401, and quota header absorption on every response.
func (c *Client) do(ctx context.Context, accountID types.AccountID, method, path string, body any) ([]byte, error) {
	endpoint := path
	if i := strings.Index(path, "?"); i >= 0 {
		endpoint = path[:i]
	}
	if err := c.limiter.Require(accountID, endpoint); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx, accountID)
	if err != nil {
		return nil, err
	}

	respBody, status, header, err := c.send(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}
	c.limiter.UpdateFromHeaders(accountID, endpoint, header)

	if status == http.StatusUnauthorized {
		token, err = c.tokens.Refresh(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("refresh token for %s: %w", accountID, err)
		}
		respBody, status, header, err = c.send(ctx, method, path, token, body)
		if err != nil {
			return nil, err
		}
		c.limiter.UpdateFromHeaders(accountID, endpoint, header)
	}

	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := time.Minute
		if v := header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &ratelimit.Error{
			AccountID:  accountID,
			Endpoint:   ratelimit.NormalizeEndpoint(endpoint),
			RetryAfter: retryAfter,
		}
	case status >= 400:
		return nil, &APIError{
			StatusCode: status,
			Endpoint:   ratelimit.NormalizeEndpoint(endpoint),
			Message:    string(respBody),
		}
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body any) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, resp.Header, nil
}

// Item is one synced record from a platform data stream.
type Item struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Page is one page of a data stream.
type Page struct {
	Items         []Item `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// FetchPage retrieves one page of the account's data stream. An empty
// pageToken starts from the beginning.
func (c *Client) FetchPage(ctx context.Context, accountID types.AccountID, dataType, pageToken string) (*Page, error) {
	path := "/v1/" + dataType
	if pageToken != "" {
		path += "?page_token=" + url.QueryEscape(pageToken)
	}
	body, err := c.do(ctx, accountID, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse %s page: %w", dataType, err)
	}
	return &page, nil
}

// EngagePost performs an engagement action (like, repost, reply) on a post.
func (c *Client) EngagePost(ctx context.Context, accountID types.AccountID, postID, action, comment string) error {
	payload := map[string]string{"action": action}
	if comment != "" {
		payload["comment"] = comment
	}
	_, err := c.do(ctx, accountID, http.MethodPost, "/v1/posts/"+url.PathEscape(postID)+"/engage", payload)
	return err
}

type createdResponse struct {
	ID string `json:"id"`
}

// PublishPost publishes content to the account's feed and returns the new
// post's ID.
func (c *Client) PublishPost(ctx context.Context, accountID types.AccountID, content string) (string, error) {
	body, err := c.do(ctx, accountID, http.MethodPost, "/v1/posts", map[string]string{"content": content})
	if err != nil {
		return "", err
	}
	var created createdResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parse publish response: %w", err)
	}
	return created.ID, nil
}

// SaveDraft stores content as an unpublished draft and returns its ID.
func (c *Client) SaveDraft(ctx context.Context, accountID types.AccountID, content string) (string, error) {
	body, err := c.do(ctx, accountID, http.MethodPost, "/v1/drafts", map[string]string{"content": content})
	if err != nil {
		return "", err
	}
	var created createdResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parse draft response: %w", err)
	}
	return created.ID, nil
}
