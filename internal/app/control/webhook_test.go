package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"control_name":"soc2"}`)

	sig := Sign("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("secret", body, "not-hex"))
}

func TestWebhookClient_Deliver(t *testing.T) {
	payload := WebhookPayload{
		ProjectID:   shared.NewID(),
		ControlID:   shared.NewID(),
		ControlName: "soc2",
		Status:      StatusPending,
	}

	t.Run("signs and posts the payload", func(t *testing.T) {
		var gotSig string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSig = r.Header.Get(SignatureHeader)
			gotBody, _ = io.ReadAll(r.Body)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "OpenCTEM-Ingest/1.0", r.Header.Get("User-Agent"))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		client := NewWebhookClient(5*time.Second, 100, 100)
		result, err := client.Deliver(context.Background(), &Control{ExternalURL: srv.URL, SharedSecret: "secret"}, payload)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, http.StatusNoContent, result.StatusCode)

		assert.True(t, VerifySignature("secret", gotBody, gotSig))
		var decoded WebhookPayload
		require.NoError(t, json.Unmarshal(gotBody, &decoded))
		assert.Equal(t, "soc2", decoded.ControlName)
	})

	t.Run("non-2xx is a structured http failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rejected", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		client := NewWebhookClient(5*time.Second, 100, 100)
		result, err := client.Deliver(context.Background(), &Control{ExternalURL: srv.URL, SharedSecret: "secret"}, payload)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, FailureHTTPError, result.FailureType)
		assert.Equal(t, http.StatusUnprocessableEntity, result.StatusCode)
		assert.Contains(t, result.Message, "rejected")
	})

	t.Run("unreachable host is a structured network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		client := NewWebhookClient(time.Second, 100, 100)
		result, err := client.Deliver(context.Background(), &Control{ExternalURL: srv.URL, SharedSecret: "secret"}, payload)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, FailureNetworkError, result.FailureType)
	})

	t.Run("missing url is an error", func(t *testing.T) {
		client := NewWebhookClient(time.Second, 100, 100)
		_, err := client.Deliver(context.Background(), &Control{}, payload)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
	})
}
