package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/pkg/config"
)

// StripeProvider implements Provider against the Stripe API
type StripeProvider struct {
	cfg *config.StripeConfig
	api *client.API
}

// NewStripeProvider creates a Stripe-backed billing provider
func NewStripeProvider(cfg *config.StripeConfig) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProvider{cfg: cfg, api: api}
}

// EnsureCustomer returns the account's Stripe customer id, creating the
// customer lazily on first use
func (p *StripeProvider) EnsureCustomer(_ context.Context, acct *model.Account) (string, error) {
	if acct.StripeCustomerID != nil && *acct.StripeCustomerID != "" {
		return *acct.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(acct.Email),
	}
	params.AddMetadata("account_id", strconv.FormatUint(uint64(acct.ID), 10))

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("could not create customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for the configured
// price and returns the redirect URL. The account id travels as the client
// reference so the completion webhook can link the subscription back.
func (p *StripeProvider) CreateCheckoutSession(_ context.Context, acct *model.Account, customerID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(acct.ID), 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("could not create checkout session: %w", err)
	}
	return s.URL, nil
}

// CancelSubscription cancels the subscription immediately
func (p *StripeProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, nil); err != nil {
		return fmt.Errorf("could not cancel subscription: %w", err)
	}
	return nil
}

// VerifyWebhook checks the payload signature against the shared secret and
// reduces the Stripe event to the fields the sync applies
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, p.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("could not parse subscription payload: %w", err)
		}
		event.SubscriptionID = sub.ID
		event.Status = mapSubscriptionStatus(sub.Status)
		if sub.Customer != nil {
			event.CustomerID = sub.Customer.ID
		}
	case EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("could not parse invoice payload: %w", err)
		}
		if inv.Customer != nil {
			event.CustomerID = inv.Customer.ID
		}
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("could not parse checkout payload: %w", err)
		}
		if sess.Customer != nil {
			event.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			event.SubscriptionID = sess.Subscription.ID
		}
		if id, err := strconv.ParseUint(sess.ClientReferenceID, 10, 64); err == nil {
			event.AccountID = uint(id)
		}
	}

	return event, nil
}

func mapSubscriptionStatus(s stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionActive
	case stripe.SubscriptionStatusPastDue:
		return model.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return model.SubscriptionCanceled
	default:
		return model.SubscriptionInactive
	}
}
