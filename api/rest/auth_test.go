package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_AutoRegister(t *testing.T) {
	e := setupEnv(t)

	w := doJSON(e.r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "pass1234",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
	assert.NotZero(t, resp["user_id"])
}

func TestLogin_WrongPassword(t *testing.T) {
	e := setupEnv(t)
	login(t, e, "bob")

	w := doJSON(e.r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob",
		"password": "wrongwrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_ValidationRejectsShortPassword(t *testing.T) {
	e := setupEnv(t)

	w := doJSON(e.r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "carol",
		"password": "abc",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_InvalidatesSession(t *testing.T) {
	e := setupEnv(t)
	token := login(t, e, "dave")

	w := doJSON(e.r, http.MethodGet, "/api/progress", nil, bearer(token)...)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(e.r, http.MethodPost, "/api/auth/logout", nil, bearer(token)...)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(e.r, http.MethodGet, "/api/progress", nil, bearer(token)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	e := setupEnv(t)
	token := login(t, e, "erin")

	w := doJSON(e.r, http.MethodPost, "/api/auth/refresh", nil, bearer(token)...)
	require.Equal(t, http.StatusOK, w.Code)
	newToken, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, token, newToken)

	// Old token dead, new token live.
	w = doJSON(e.r, http.MethodGet, "/api/progress", nil, bearer(token)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(e.r, http.MethodGet, "/api/progress", nil, bearer(newToken)...)
	assert.Equal(t, http.StatusOK, w.Code)
}
