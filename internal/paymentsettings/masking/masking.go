package masking

import (
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

const maskToken = "****"

var sensitiveHeaders = map[string]struct{}{
	"authorization":    {},
	"x-api-key":        {},
	"verif-hash":       {},
	"stripe-signature": {},
	"cookie":           {},
}

// MaskSecret redacts a secret while keeping a minimal suffix for operators.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskCredentials masks the key material and keeps URLs readable.
func MaskCredentials(creds paymentdomain.Credentials) paymentdomain.Credentials {
	creds.APIKey = MaskSecret(creds.APIKey)
	creds.SecretKey = MaskSecret(creds.SecretKey)
	if creds.WebhookSecret != "" {
		creds.WebhookSecret = maskToken
	}
	return creds
}

// MaskHeaders returns a flat copy of headers safe to log.
func MaskHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		value := strings.Join(values, ",")
		if _, ok := sensitiveHeaders[strings.ToLower(key)]; ok {
			value = maskToken
		}
		out[key] = value
	}
	return out
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
