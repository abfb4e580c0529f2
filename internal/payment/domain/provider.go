package domain

import (
	"context"
	"net/http"
)

// Provider is implemented by every payment backend.
//
// Implementations never panic and never return bare errors: failures are
// reported through the Err field of the result values.
type Provider interface {
	ID() ProviderID
	Descriptor() ProviderDescriptor
	CreateOrder(ctx context.Context, data OrderData, creds Credentials) OrderResult
	CheckStatus(ctx context.Context, orderID string, creds Credentials) StatusResult
}

// PushProvider can trigger a USSD prompt on the customer's handset.
type PushProvider interface {
	Provider
	TriggerPush(ctx context.Context, req PushRequest, creds Credentials) PushAck
}

// WebhookParser reduces a provider webhook body to canonical fields.
type WebhookParser interface {
	ParseWebhook(payload []byte, headers http.Header, creds Credentials) (WebhookNotification, error)
}

// StatusMapper maps vendor vocabulary to canonical statuses.
type StatusMapper interface {
	MapStatus(raw string) PaymentStatus
}

// CredentialsResolver returns the effective credentials for a provider.
type CredentialsResolver interface {
	EffectiveCredentials(id ProviderID) Credentials
}
