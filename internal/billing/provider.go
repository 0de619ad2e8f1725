// Package billing integrates the external subscription provider and keeps
// account premium state in sync with its webhook events.
package billing

import (
	"context"
	"errors"

	"github.com/writerrose28/ReDerma/internal/model"
)

var (
	// ErrNoActiveSubscription is returned when cancel is requested for an
	// account without a subscription
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrSignatureInvalid is returned when a webhook payload fails
	// signature verification
	ErrSignatureInvalid = errors.New("invalid webhook signature")
)

// Event kinds after normalization from the provider's wire types
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// Event is a provider webhook event reduced to the fields the sync needs
type Event struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
	Status         model.SubscriptionStatus
	// AccountID is carried through checkout as the client reference;
	// zero when the event kind does not include it.
	AccountID uint
}

// Provider is the external billing capability
type Provider interface {
	// EnsureCustomer returns the provider customer id for the account,
	// creating the customer record lazily on first use.
	EnsureCustomer(ctx context.Context, acct *model.Account) (string, error)
	// CreateCheckoutSession starts a subscription checkout and returns
	// the redirect URL.
	CreateCheckoutSession(ctx context.Context, acct *model.Account, customerID string) (string, error)
	// CancelSubscription cancels the subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID string) error
	// VerifyWebhook checks the payload signature and normalizes the event.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
