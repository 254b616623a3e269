package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultTokenFile is where sheets-auth saves the user token when
// GOOGLE_OAUTH_TOKEN_FILE is unset.
const DefaultTokenFile = "token.json"

var errNoOAuth = errors.New("no oauth credentials configured")

// OAuthConfigFromEnv reads the installed-app client from
// GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE.
func OAuthConfigFromEnv() (*oauth2.Config, error) {
	var data []byte
	switch {
	case strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON")) != "":
		data = []byte(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	case strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")) != "":
		b, err := os.ReadFile(strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")))
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
		data = b
	default:
		return nil, errNoOAuth
	}
	cfg, err := goauth.ConfigFromJSON(data, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

// TokenFile returns GOOGLE_OAUTH_TOKEN_FILE or the default.
func TokenFile() string {
	if p := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_FILE")); p != "" {
		return p
	}
	return DefaultTokenFile
}

// TokenFromEnv reads a saved user token from GOOGLE_OAUTH_TOKEN_JSON or
// GOOGLE_OAUTH_TOKEN_FILE.
func TokenFromEnv() (*oauth2.Token, error) {
	data := []byte(strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_JSON")))
	if len(data) == 0 {
		path := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"))
		if path == "" {
			return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read oauth token file: %w", err)
		}
		data = b
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode oauth token: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok as JSON readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}

// clientOptions prefers a user OAuth token and falls back to service
// account credentials.
func clientOptions(ctx context.Context) ([]goption.ClientOption, error) {
	cfg, err := OAuthConfigFromEnv()
	switch {
	case err == nil:
		tok, err := TokenFromEnv()
		if err != nil {
			return nil, err
		}
		return []goption.ClientOption{goption.WithTokenSource(cfg.TokenSource(ctx, tok))}, nil
	case !errors.Is(err, errNoOAuth):
		return nil, err
	}

	creds, err := credentialsFromEnv()
	if err != nil {
		return nil, err
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}
