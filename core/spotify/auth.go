package spotify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/core/auth"
	"github.com/EvanCNavarro/disc-sub000/core/retry"

	"github.com/go-resty/resty/v2"
)

// AuthClient talks to the platform's accounts service. It holds the app
// credentials; user refresh tokens are passed in per call.
type AuthClient struct {
	clientID     string
	clientSecret string
	tokenURL     string
	http         *resty.Client
}

// NewAuthClient creates an accounts-service client.
func NewAuthClient(clientID, clientSecret, tokenURL string) *AuthClient {
	return &AuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		http:         resty.New(),
	}
}

// ExchangeRefreshToken performs the OAuth refresh grant. The response may
// carry a rotated refresh token; callers must persist it before using the
// access token.
func (a *AuthClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*auth.TokenResponse, error) {
	var token *auth.TokenResponse
	err := retry.Do(ctx, retry.PlatformPolicy, "spotify.refresh", func() error {
		resp, err := a.http.R().
			SetContext(ctx).
			SetBasicAuth(a.clientID, a.clientSecret).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetFormData(map[string]string{
				"grant_type":    "refresh_token",
				"refresh_token": refreshToken,
			}).
			Post(a.tokenURL)
		if err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}
		if resp.IsError() {
			return &retry.StatusError{Code: resp.StatusCode(), Message: string(resp.Body())}
		}

		var result struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
		}
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return fmt.Errorf("failed to decode token response: %w", err)
		}
		if result.AccessToken == "" {
			return fmt.Errorf("token response carried no access token")
		}

		token = &auth.TokenResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			ExpiresIn:    result.ExpiresIn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}
