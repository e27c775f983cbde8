package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"twitch-shorts-pipeline/config"
)

// ErrNoCredentials is returned when the Twitch app credentials are not set.
var ErrNoCredentials = errors.New("TWITCH_CLIENT_ID or TWITCH_CLIENT_SECRET not set")

// Credentials identify the Twitch application.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// CredentialsFromEnv reads TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		ClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		ClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// Authenticator obtains app access tokens with the client-credentials grant.
type Authenticator struct {
	oauth      *clientcredentials.Config
	httpClient *http.Client
}

// NewAuthenticator creates an Authenticator against cfg.AuthURL.
func NewAuthenticator(cfg config.TwitchConfig, creds Credentials) *Authenticator {
	return &Authenticator{
		oauth: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     cfg.AuthURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Token returns a fresh app access token.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := a.oauth.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("twitch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("twitch token: empty access token")
	}
	return tok.AccessToken, nil
}
