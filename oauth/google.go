package oauth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider exchanges authorization codes against Google's OIDC
// endpoints.
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	timeout     time.Duration
	maxRetries  int
}

// NewGoogle creates a Google [Provider]. ClientID and ClientSecret are
// required.
func NewGoogle(cfg Config) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google provider requires client id and secret")
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultGoogleUserInfoURL
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		timeout:     cfg.timeout(),
		maxRetries:  cfg.maxRetries(),
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// Exchange swaps the code for a token and fetches the OIDC userinfo.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	token, err := exchangeCode(ctx, p.oauth, p.timeout, code)
	if err != nil {
		return ExternalIdentity{}, err
	}

	var info struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	client := p.oauth.Client(ctx, token)
	if err := fetchJSON(ctx, client, p.userInfoURL, p.timeout, p.maxRetries, &info); err != nil {
		return ExternalIdentity{}, err
	}
	if info.Sub == "" {
		return ExternalIdentity{}, errors.Join(ErrExchangeFailed, errors.New("userinfo missing subject"))
	}

	return ExternalIdentity{
		Provider:  p.Name(),
		Subject:   info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}
