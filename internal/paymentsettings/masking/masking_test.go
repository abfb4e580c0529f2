package masking

import (
	"net/http"
	"testing"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "sk_test_****7890", MaskSecret("sk_test_1234567890"))
}

func TestMaskCredentials(t *testing.T) {
	masked := MaskCredentials(paymentdomain.Credentials{
		APIKey:        "zp_live_abcdef123456",
		BaseURL:       "https://zenoapi.com",
		WebhookSecret: "whsec",
	})
	assert.Equal(t, "zp_live_****3456", masked.APIKey)
	assert.Equal(t, "https://zenoapi.com", masked.BaseURL)
	assert.Equal(t, "****", masked.WebhookSecret)
	assert.Empty(t, masked.SecretKey)
}

func TestMaskHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Api-Key", "secret")
	headers.Set("Content-Type", "application/json")

	masked := MaskHeaders(headers)
	assert.Equal(t, "****", masked["X-Api-Key"])
	assert.Equal(t, "application/json", masked["Content-Type"])
}
