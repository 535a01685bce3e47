package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRefreshTokenSendsGrantForm(t *testing.T) {
	var gotAuth, gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-abc",
			"refresh_token": "refresh-rotated",
			"expires_in":    3600,
			"token_type":    "Bearer",
		}))
	}))
	defer srv.Close()

	client := NewAuthClient("app-id", "app-secret", srv.URL)
	token, err := client.ExchangeRefreshToken(context.Background(), "refresh-old")
	require.NoError(t, err)

	assert.Equal(t, "access-abc", token.AccessToken)
	assert.Equal(t, "refresh-rotated", token.RefreshToken)
	assert.Equal(t, 3600, token.ExpiresIn)

	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "refresh-old", gotRefresh)
	// 应用凭据走HTTP基本认证
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("app-id:app-secret"))
	assert.Equal(t, wantAuth, gotAuth)
}

func TestExchangeRefreshTokenWithoutRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-abc",
			"expires_in":   3600,
		}))
	}))
	defer srv.Close()

	client := NewAuthClient("app-id", "app-secret", srv.URL)
	token, err := client.ExchangeRefreshToken(context.Background(), "refresh-old")
	require.NoError(t, err)
	assert.Empty(t, token.RefreshToken)
}

func TestExchangeRefreshTokenRejectsEmptyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600}))
	}))
	defer srv.Close()

	client := NewAuthClient("app-id", "app-secret", srv.URL)
	_, err := client.ExchangeRefreshToken(context.Background(), "refresh-old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}

func TestExchangeRefreshTokenInvalidGrantNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewAuthClient("app-id", "app-secret", srv.URL)
	_, err := client.ExchangeRefreshToken(context.Background(), "revoked")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
