package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// The auth service owns the account records. This client only reads them and
// patches the denormalized subscription fields on the user metadata; it never
// creates or deletes identities.

var (
	authAPIURLEnv     = "AUTH_API_URL"
	authServiceKeyEnv = "AUTH_SERVICE_KEY"

	ErrNotConfigured = fmt.Errorf("auth service not configured")
)

// Default is the process-wide client, set by Init at startup. It stays nil
// when the auth service env vars are absent; callers treat that as a
// best-effort no-op, not a fatal condition.
var Default *Client

type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// User is the subset of the auth service's account record consumed here.
type User struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Metadata map[string]interface{} `json:"user_metadata"`
}

// Metadata carries the denormalized subscription fields cached on the
// account record. Tier is a pointer so a cancellation can clear it.
type Metadata struct {
	SubscriptionTier   *string `json:"subscription_tier"`
	SubscriptionStatus string  `json:"subscription_status"`
	StripeCustomerId   string  `json:"stripe_customer_id,omitempty"`
}

func Init() {
	Default = NewFromEnv()
}

// NewFromEnv builds a client from AUTH_API_URL and AUTH_SERVICE_KEY, or
// returns nil when they are not set.
func NewFromEnv() *Client {
	baseURL := os.Getenv(authAPIURLEnv)
	serviceKey := os.Getenv(authServiceKeyEnv)
	if baseURL == "" || serviceKey == "" {
		return nil
	}
	return New(baseURL, serviceKey)
}

func New(baseURL, serviceKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetUser fetches one account record from the auth service.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	url := fmt.Sprintf("%s/admin/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling auth service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("auth service error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("error decoding response: %v", err)
	}
	return &user, nil
}

// UpdateUserMetadata patches the subscription fields on the account record.
// The ledger remains the source of truth; this write is a display cache.
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, meta Metadata) error {
	if c == nil {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]interface{}{
		"user_metadata": meta,
	})
	if err != nil {
		return fmt.Errorf("error encoding metadata: %v", err)
	}

	url := fmt.Sprintf("%s/admin/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling auth service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("auth service error: status=%d, body=%s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Accept", "application/json")
}
