package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateUserMetadata(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, "service-key")
	tier := "Pro"
	err := client.UpdateUserMetadata(context.Background(), "user-1", Metadata{
		SubscriptionTier:   &tier,
		SubscriptionStatus: "active",
		StripeCustomerId:   "cus_123",
	})

	assert.NoError(t, err)
	assert.Equal(t, "/admin/users/user-1", gotPath)
	assert.Equal(t, "Bearer service-key", gotAuth)
	meta := gotBody["user_metadata"]
	assert.Equal(t, "Pro", meta["subscription_tier"])
	assert.Equal(t, "active", meta["subscription_status"])
	assert.Equal(t, "cus_123", meta["stripe_customer_id"])
}

func TestUpdateUserMetadata_ClearsTierOnCancellation(t *testing.T) {
	var gotBody map[string]map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, "service-key")
	err := client.UpdateUserMetadata(context.Background(), "user-1", Metadata{
		SubscriptionTier:   nil,
		SubscriptionStatus: "canceled",
	})

	assert.NoError(t, err)
	meta := gotBody["user_metadata"]
	assert.Nil(t, meta["subscription_tier"])
	assert.Equal(t, "canceled", meta["subscription_status"])
}

func TestUpdateUserMetadata_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "service-key")
	err := client.UpdateUserMetadata(context.Background(), "user-1", Metadata{SubscriptionStatus: "active"})

	assert.Error(t, err)
}

func TestGetUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "user-1", "email": "user@example.com", "user_metadata": {"subscription_tier": "Pro"}}`))
	}))
	defer server.Close()

	client := New(server.URL, "service-key")
	user, err := client.GetUser(context.Background(), "user-1")

	assert.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, "Pro", user.Metadata["subscription_tier"])
}

func TestNilClientReportsNotConfigured(t *testing.T) {
	var client *Client

	_, err := client.GetUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = client.UpdateUserMetadata(context.Background(), "user-1", Metadata{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
