package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProfile(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	rec := ts.do(t, http.MethodGet, "/api/auth/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/auth/profile", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ProfileResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "Ann", resp.User.Name)
	assert.Equal(t, "ann@example.com", resp.User.Email)
	assert.Empty(t, resp.User.Birthday)
	assert.Empty(t, resp.User.NationalIDNumber)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	rec := ts.do(t, http.MethodPut, "/api/auth/profile",
		`{"birthday":"1990-05-01","address":"1 Main St","nationalIdNumber":"A123456789"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProfileResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "Ann", resp.User.Name)
	assert.Equal(t, "1990-05-01", resp.User.Birthday)
	assert.Equal(t, "1 Main St", resp.User.Address)
	assert.Equal(t, "A123456789", resp.User.NationalIDNumber)

	// Omitted fields stay; an empty string clears.
	rec = ts.do(t, http.MethodPut, "/api/auth/profile", `{"name":"Ann Lee","address":""}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = ProfileResponse{}
	decodeData(t, rec, &resp)
	assert.Equal(t, "Ann Lee", resp.User.Name)
	assert.Empty(t, resp.User.Address)
	assert.Equal(t, "1990-05-01", resp.User.Birthday)
	assert.Equal(t, "A123456789", resp.User.NationalIDNumber)

	rec = ts.do(t, http.MethodGet, "/api/auth/profile", "", cookie)
	resp = ProfileResponse{}
	decodeData(t, rec, &resp)
	assert.Equal(t, "Ann Lee", resp.User.Name)
}

func TestUpdateProfile_Invalid(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad date", `{"birthday":"01/05/1990"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"future birthday", `{"birthday":"2999-01-01"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty name", `{"name":""}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed json", `{"name":`, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPut, "/api/auth/profile", tt.body, cookie)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestUpdateProfile_DuplicateNationalID(t *testing.T) {
	ts := newTestServer(t)
	ann := ts.register(t, "Ann", "ann@example.com", "secret1")
	bob := ts.register(t, "Bob", "bob@example.com", "secret2")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/auth/profile",
		`{"nationalIdNumber":"A123456789"}`, ann).Code)

	rec := ts.do(t, http.MethodPut, "/api/auth/profile", `{"nationalIdNumber":"A123456789"}`, bob)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_NATIONAL_ID", errorCode(t, rec))

	// Re-submitting one's own number is not a conflict.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/auth/profile",
		`{"nationalIdNumber":"A123456789"}`, ann).Code)
}
