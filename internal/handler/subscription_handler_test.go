package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/writerrose28/ReDerma/internal/billing"
	"github.com/writerrose28/ReDerma/internal/model"
)

func (env *testEnv) postWebhook(signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/subscription/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.provider.event = &billing.Event{
		ID:   "evt_1",
		Type: billing.EventSubscriptionCreated,
	}

	rec := env.postWebhook("forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var count int64
	require.NoError(t, env.db.Model(&model.BillingEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookUpgradesAccount(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.registerAndLogin(t, "payer@example.com")

	customerID := "cus_payer"
	require.NoError(t, env.db.Model(&model.Account{}).Where("id = ?", id).
		Update("stripe_customer_id", customerID).Error)

	env.provider.event = &billing.Event{
		ID:             "evt_activated",
		Type:           billing.EventSubscriptionCreated,
		CustomerID:     customerID,
		SubscriptionID: "sub_payer",
		Status:         model.SubscriptionActive,
	}

	rec := env.postWebhook("valid")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "received")

	var acct model.Account
	require.NoError(t, env.db.First(&acct, id).Error)
	assert.True(t, acct.IsPremium)
	assert.Equal(t, model.SubscriptionActive, acct.SubscriptionStatus)
	require.NotNil(t, acct.StripeSubscriptionID)
	assert.Equal(t, "sub_payer", *acct.StripeSubscriptionID)
}

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.registerAndLogin(t, "buyer@example.com")

	rec := env.doJSON(http.MethodPost, "/subscription/create-checkout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://billing.example.com/session/test")

	// The lazily created customer id is persisted for webhook correlation.
	var acct model.Account
	require.NoError(t, env.db.First(&acct, id).Error)
	require.NotNil(t, acct.StripeCustomerID)
	assert.Equal(t, "cus_test", *acct.StripeCustomerID)
}

func TestCancelSubscription(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.registerAndLogin(t, "leaver@example.com")

	// No subscription yet.
	rec := env.doJSON(http.MethodPost, "/subscription/cancel", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, env.db.Model(&model.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"stripe_subscription_id": "sub_leaver",
			"subscription_status":    model.SubscriptionActive,
			"is_premium":             true,
		}).Error)

	rec = env.doJSON(http.MethodPost, "/subscription/cancel", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"sub_leaver"}, env.provider.canceled)

	var acct model.Account
	require.NoError(t, env.db.First(&acct, id).Error)
	assert.False(t, acct.IsPremium)
	assert.Equal(t, model.SubscriptionCanceled, acct.SubscriptionStatus)
}
