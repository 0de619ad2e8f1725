package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/billing"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/pkg/logger"
	"github.com/writerrose28/ReDerma/prometheus"
)

// SubscriptionHandler serves checkout, cancellation and the billing webhook
type SubscriptionHandler struct {
	db       *gorm.DB
	provider billing.Provider
	sync     *billing.Sync
}

// NewSubscriptionHandler creates the subscription handler with its dependencies
func NewSubscriptionHandler(db *gorm.DB, provider billing.Provider, sync *billing.Sync) *SubscriptionHandler {
	return &SubscriptionHandler{db: db, provider: provider, sync: sync}
}

// CreateCheckout starts a subscription checkout and returns the redirect
// URL. The provider customer record is created lazily on first checkout.
func (h *SubscriptionHandler) CreateCheckout(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)

	defer prometheus.TrackUpstream("billing")(time.Now())
	customerID, err := h.provider.EnsureCustomer(c.Request().Context(), acct)
	if err != nil {
		log.Error("Failed to ensure billing customer", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not start checkout"})
	}

	if acct.StripeCustomerID == nil || *acct.StripeCustomerID != customerID {
		if err := h.db.Model(acct).Update("stripe_customer_id", customerID).Error; err != nil {
			log.Error("Failed to store billing customer id", zap.Uint("account_id", acct.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not start checkout"})
		}
	}

	url, err := h.provider.CreateCheckoutSession(c.Request().Context(), acct, customerID)
	if err != nil {
		log.Error("Failed to create checkout session", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not start checkout"})
	}

	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// Cancel terminates the active subscription. Local state is downgraded
// immediately; the provider's deletion webhook re-applies the same state.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)

	if acct.StripeSubscriptionID == nil || *acct.StripeSubscriptionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no active subscription"})
	}

	defer prometheus.TrackUpstream("billing")(time.Now())
	if err := h.provider.CancelSubscription(c.Request().Context(), *acct.StripeSubscriptionID); err != nil {
		if errors.Is(err, billing.ErrNoActiveSubscription) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "no active subscription"})
		}
		log.Error("Failed to cancel subscription", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not cancel subscription"})
	}

	err := h.db.Model(acct).Updates(map[string]interface{}{
		"subscription_status": model.SubscriptionCanceled,
		"is_premium":          false,
	}).Error
	if err != nil {
		log.Error("Failed to downgrade account after cancel", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not cancel subscription"})
	}

	log.Info("Subscription canceled", zap.Uint("account_id", acct.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "subscription canceled"})
}

// Webhook receives billing provider events. Signature verification happens
// before anything is parsed; unverifiable payloads are rejected outright.
func (h *SubscriptionHandler) Webhook(c echo.Context) error {
	log := logger.FromEcho(c)

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		log.Error("Failed to read webhook payload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read payload"})
	}

	event, err := h.provider.VerifyWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn("Webhook rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}

	prometheus.RecordWebhookEvent(event.Type)

	if err := h.sync.Apply(event); err != nil {
		log.Error("Failed to apply billing event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not process event"})
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
