package request

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDecodePayload is a helper struct used only for testing Decode.
type testDecodePayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

func TestDecode_ValidJSON(t *testing.T) {
	body := `{"name":"alice","email":"alice@example.com"}`
	r, err := http.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	require.NoError(t, err)

	var payload testDecodePayload
	err = Decode(r, &payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.Name)
	assert.Equal(t, "alice@example.com", payload.Email)
}

func TestDecode_InvalidJSON(t *testing.T) {
	body := `{not valid json}`
	r, err := http.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	require.NoError(t, err)

	var payload testDecodePayload
	err = Decode(r, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestDecode_ValidationFails(t *testing.T) {
	// Missing the required "name" field.
	body := `{"email":"alice@example.com"}`
	r, err := http.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	require.NoError(t, err)

	var payload testDecodePayload
	err = Decode(r, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
}

func TestSlugValidation_Valid(t *testing.T) {
	validSlugs := []string{"my-site", "test123", "a", "abc-def-123", "z0"}
	for _, slug := range validSlugs {
		t.Run(slug, func(t *testing.T) {
			assert.True(t, nameRegex.MatchString(slug), "expected slug %q to be valid", slug)
		})
	}
}

func TestSlugValidation_Invalid(t *testing.T) {
	invalidSlugs := []string{
		"My Site",       // spaces and uppercase
		"test@123",      // special character
		"",              // empty
		strings.Repeat("a", 64), // too long (max 63 chars)
		"1starts-digit", // must start with lowercase letter
		"-leading-dash", // must start with lowercase letter
	}
	for _, slug := range invalidSlugs {
		t.Run(slug, func(t *testing.T) {
			assert.False(t, nameRegex.MatchString(slug), "expected slug %q to be invalid", slug)
		})
	}
}

func TestDecodeOptional_EmptyBody(t *testing.T) {
	r, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, err)

	var payload CheckHealth
	require.NoError(t, DecodeOptional(r, &payload))
	assert.Empty(t, payload.IPAddress)
}

func TestDecodeOptional_StillValidates(t *testing.T) {
	r, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ipAddress":"not-an-ip"}`))
	require.NoError(t, err)

	var payload CheckHealth
	err = DecodeOptional(r, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
}

func TestMigrateVPS_SameDeploymentRejected(t *testing.T) {
	body := `{"action":"execute","fromDeploymentId":"d1","toDeploymentId":"d1"}`
	r, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	require.NoError(t, err)

	var payload MigrateVPS
	assert.Error(t, Decode(r, &payload))
}
