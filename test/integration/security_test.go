package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyakairu/prosa/model"
)

func TestSecurity_APIRequiresToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/v1/definitions", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrUnauthorized, parseErrorEnvelope(t, h, resp).Code)
}

func TestSecurity_ExpiredTokenRejected(t *testing.T) {
	h := NewTestHarness(t)

	token := h.GenerateExpiredToken(ManagerClaims())
	resp := h.GET("/api/v1/definitions", token)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_WrongAudienceRejected(t *testing.T) {
	h := NewTestHarness(t)

	claims := ManagerClaims()
	claims.Extra = map[string]any{"aud": "another-service"}
	resp := h.GET("/api/v1/definitions", h.GenerateToken(claims))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_WrongIssuerRejected(t *testing.T) {
	h := NewTestHarness(t)

	claims := ManagerClaims()
	claims.Extra = map[string]any{"iss": "https://rogue.example.com"}
	resp := h.GET("/api/v1/definitions", h.GenerateToken(claims))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_HealthEndpointsArePublic(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health", "")
	var health map[string]string
	h.AssertJSON(t, resp, http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	resp = h.GET("/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_ResponseHeaders(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.GET("/api/v1/definitions", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
}

func TestSecurity_CorrelationIDEchoed(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	req, err := http.NewRequest(http.MethodGet, h.BaseURL()+"/api/v1/definitions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-Id", "corr-integration-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "corr-integration-1", resp.Header.Get("X-Correlation-Id"))
}

func TestSecurity_UnknownResourcesReturnEnvelopes(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.GET("/api/v1/definitions/no-such-definition", token)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrNotFound, parseErrorEnvelope(t, h, resp).Code)

	resp = h.POST("/api/v1/definitions", map[string]any{
		"key":  "Not-A-Valid-Key",
		"name": "Broken",
	}, token)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	envelope := parseErrorEnvelope(t, h, resp)
	assert.Equal(t, model.ErrValidationError, envelope.Code)
	require.NotEmpty(t, envelope.Details)
	assert.Equal(t, "key", envelope.Details[0].Field)
}
