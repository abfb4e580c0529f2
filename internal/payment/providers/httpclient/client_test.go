package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoClassifiesVendorAndTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid msisdn"}`))
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	client := New(domain.ProviderStripe, Config{ConsecutiveFailures: 10})
	ctx := context.Background()

	resp, err := client.Do(ctx, "ok", Request{URL: JoinURL(srv.URL, "/ok"), Bearer: "sk_test"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Map()["status"])

	resp, err = client.Do(ctx, "bad", Request{URL: JoinURL(srv.URL, "bad")})
	require.Error(t, err)
	assert.Equal(t, domain.KindVendor, domain.KindOf(err))
	assert.Contains(t, err.Error(), "invalid msisdn")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Do(ctx, "down", Request{URL: JoinURL(srv.URL, "down")})
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(domain.ProviderZenoPay, Config{ConsecutiveFailures: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Do(ctx, "status", Request{URL: srv.URL})
		require.Error(t, err)
	}

	_, err := client.Do(ctx, "status", Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
