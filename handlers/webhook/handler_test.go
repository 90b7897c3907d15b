package webhook

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"creatorlab-backend/accounts"
	"creatorlab-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const testWebhookSecret = "whsec_test_secret"

func TestMain(m *testing.M) {
	testutils.InitTestMain()
	os.Setenv("STRIPE_WEBHOOK_SECRET", testWebhookSecret)

	log.SetOutput(io.Discard)

	exitCode := m.Run()

	log.SetOutput(os.Stdout)
	os.Exit(exitCode)
}

func signedWebhookRequest(t *testing.T, eventType string, object map[string]interface{}) *http.Request {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data": map[string]interface{}{
			"object": object,
		},
	})
	if err != nil {
		t.Fatalf("error building event payload: %s", err)
	}

	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, testWebhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))

	req, _ := http.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", header)
	return req
}

func checkoutSessionObject() map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_test_123",
		"object":       "checkout.session",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"metadata": map[string]string{
			"userId":    "8c2f0a8e-6f63-4b56-9d3b-1f51a0a1c001",
			"plan":      "monthly",
			"tier":      "Pro",
			"discordId": "discord-42",
		},
	}
}

// The upsert must carry the period guard: without it a payload with NULL
// bounds would wipe what an earlier event stored.
func expectSubscriptionUpsert(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "subscriptions" (.+) ON CONFLICT (.+) DO UPDATE SET (.+)GREATEST\(excluded\.current_period_end,(.+) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("row-1"))
	mock.ExpectCommit()
}

func TestWebhook_InvalidSignatureNeverTouchesLedger(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_tampered",
		"type": "checkout.session.completed",
	})
	req, _ := http.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	// No statement may have reached the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_CheckoutCompletedRedelivery(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	// Stripe may deliver the same event twice; both deliveries hit the same
	// keyed upsert and the row converges instead of duplicating.
	for i := 0; i < 2; i++ {
		expectSubscriptionUpsert(mock)

		req := signedWebhookRequest(t, "checkout.session.completed", checkoutSessionObject())
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
		var body map[string]bool
		json.Unmarshal(resp.Body.Bytes(), &body)
		assert.True(t, body["received"])
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_CreatedBeforeCompletedConverges(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	subscriptionObject := map[string]interface{}{
		"id":       "sub_123",
		"object":   "subscription",
		"customer": "cus_123",
		"status":   "active",
		"metadata": map[string]string{
			"userId": "8c2f0a8e-6f63-4b56-9d3b-1f51a0a1c001",
			"plan":   "monthly",
			"tier":   "Pro",
		},
		"items": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"object":               "subscription_item",
					"current_period_start": 1735689600,
					"current_period_end":   1738368000,
				},
			},
		},
	}

	// customer.subscription.created arriving first creates the row with its
	// period bounds; the later checkout.session.completed carries none and
	// only refreshes the other columns.
	expectSubscriptionUpsert(mock)
	req := signedWebhookRequest(t, "customer.subscription.created", subscriptionObject)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	expectSubscriptionUpsert(mock)
	req = signedWebhookRequest(t, "checkout.session.completed", checkoutSessionObject())
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// A checkout-completed payload has no period data; the conflict assignments
// must keep the stored bounds instead of writing the incoming NULLs, and the
// period end may only ever grow.
func TestSubscriptionUpsert_PeriodBoundsNeverRegress(t *testing.T) {
	conflict := subscriptionUpsertConflict()

	assert.Equal(t, "stripe_subscription_id", conflict.Columns[0].Name)

	guards := map[string]string{}
	plain := map[string]bool{}
	for _, assignment := range conflict.DoUpdates {
		if expr, ok := assignment.Value.(clause.Expr); ok {
			guards[assignment.Column.Name] = expr.SQL
		} else {
			plain[assignment.Column.Name] = true
		}
	}

	assert.Contains(t, guards["current_period_start"], "COALESCE(excluded.current_period_start")
	assert.Contains(t, guards["current_period_start"], `"subscriptions".current_period_start`)
	assert.Contains(t, guards["current_period_end"], "GREATEST(excluded.current_period_end")
	assert.Contains(t, guards["current_period_end"], `"subscriptions".current_period_end`)

	// No plain column assignment may bypass the guards
	assert.False(t, plain["current_period_start"])
	assert.False(t, plain["current_period_end"])
	assert.True(t, plain["status"])
	assert.True(t, plain["tier"])
}

func TestWebhook_DeletedAfterUpdatedEndsCanceled(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	subscriptionRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "stripe_subscription_id", "user_id", "status"}).
			AddRow("row-1", "sub_123", "8c2f0a8e-6f63-4b56-9d3b-1f51a0a1c001", "active")
	}

	// customer.subscription.updated refreshes status and period bounds
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE stripe_subscription_id = (.+)`).
		WillReturnRows(subscriptionRow())
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := signedWebhookRequest(t, "customer.subscription.updated", map[string]interface{}{
		"id":     "sub_123",
		"object": "subscription",
		"status": "active",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	// customer.subscription.deleted marks the row canceled and stamps
	// canceled_at once
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET (.+)canceled_at(.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE stripe_subscription_id = (.+)`).
		WillReturnRows(subscriptionRow())

	req = signedWebhookRequest(t, "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_123",
		"object": "subscription",
		"status": "canceled",
	})
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_DeletedToleratesAlreadyCanceledRow(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE stripe_subscription_id = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "stripe_subscription_id", "user_id", "status"}).
			AddRow("row-1", "sub_123", "8c2f0a8e-6f63-4b56-9d3b-1f51a0a1c001", "canceled"))

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_123",
		"object": "subscription",
		"status": "canceled",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_UpdatedWithoutLocalRowIsNotFatal(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE stripe_subscription_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "customer.subscription.updated", map[string]interface{}{
		"id":     "sub_missing",
		"object": "subscription",
		"status": "active",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_PaymentSucceededAppends(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "payments" (.+) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay-1"))
	mock.ExpectCommit()

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "invoice.payment_succeeded", map[string]interface{}{
		"id":          "in_123",
		"object":      "invoice",
		"amount_paid": 1999,
		"currency":    "usd",
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{
				"subscription": "sub_123",
			},
		},
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_PaymentFailedAppends(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "payments" (.+) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pay-2"))
	mock.ExpectCommit()

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_124",
		"object":       "invoice",
		"amount_due":   1999,
		"currency":     "usd",
		"subscription": "sub_123",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_UnknownEventKindIsAcknowledged(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	accounts.Default = nil

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "customer.updated", map[string]interface{}{
		"id":     "cus_123",
		"object": "customer",
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	var body map[string]bool
	json.Unmarshal(resp.Body.Bytes(), &body)
	assert.True(t, body["received"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_AccountRefreshFailureDoesNotFailEvent(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	// The auth service is down; the ledger write already committed, so the
	// event must still be acknowledged.
	authService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer authService.Close()
	accounts.Default = accounts.New(authService.URL, "service-key")
	defer func() { accounts.Default = nil }()

	expectSubscriptionUpsert(mock)

	r := testutils.SetupTestRouter()
	r.POST("/api/webhook", StripeWebhookHandler)

	req := signedWebhookRequest(t, "checkout.session.completed", checkoutSessionObject())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
