package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clinalytics/platform/pkg/common/models"
)

// OIDCAuthenticator validates bearer tokens against an identity provider's
// introspection endpoint. The introspection call itself is authorized with
// client credentials.
type OIDCAuthenticator struct {
	introspectURL string
	client        *http.Client
}

func NewOIDCAuthenticator(ctx context.Context, issuer, clientID, clientSecret string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	base := strings.TrimRight(issuer, "/")
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     base + "/token",
	}
	return &OIDCAuthenticator{
		introspectURL: base + "/introspect",
		client:        cc.Client(ctx),
	}, nil
}

type introspection struct {
	Active bool   `json:"active"`
	Sub    string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (a *OIDCAuthenticator) ValidateToken(ctx context.Context, token string) (*models.Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty")
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.introspectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned %d", resp.StatusCode)
	}

	var result introspection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	if !result.Active {
		return nil, fmt.Errorf("token inactive")
	}

	principal := &models.Principal{Role: result.Role, Email: result.Email}
	if id, err := uuid.Parse(result.Sub); err == nil {
		principal.ID = id
	}
	return principal, nil
}
