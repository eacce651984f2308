package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	defaultGitHubUserURL   = "https://api.github.com/user"
	defaultGitHubEmailsURL = "https://api.github.com/user/emails"
)

// GitHubProvider exchanges authorization codes against GitHub's OAuth2
// endpoints. GitHub does not always expose the email on the user resource,
// so a private primary email is resolved through the emails endpoint.
type GitHubProvider struct {
	oauth      *oauth2.Config
	userURL    string
	emailsURL  string
	timeout    time.Duration
	maxRetries int
}

// NewGitHub creates a GitHub [Provider]. ClientID and ClientSecret are
// required.
func NewGitHub(cfg Config) (*GitHubProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("github provider requires client id and secret")
	}

	endpoint := github.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	userURL := cfg.UserInfoURL
	if userURL == "" {
		userURL = defaultGitHubUserURL
	}
	emailsURL := defaultGitHubEmailsURL
	if cfg.UserInfoURL != "" {
		emailsURL = cfg.UserInfoURL + "/emails"
	}

	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userURL:    userURL,
		emailsURL:  emailsURL,
		timeout:    cfg.timeout(),
		maxRetries: cfg.maxRetries(),
	}, nil
}

func (p *GitHubProvider) Name() string { return "github" }

// Exchange swaps the code for a token and fetches the user resource,
// falling back to the emails endpoint when the profile email is private.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	token, err := exchangeCode(ctx, p.oauth, p.timeout, code)
	if err != nil {
		return ExternalIdentity{}, err
	}

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	client := p.oauth.Client(ctx, token)
	if err := fetchJSON(ctx, client, p.userURL, p.timeout, p.maxRetries, &user); err != nil {
		return ExternalIdentity{}, err
	}
	if user.ID == 0 {
		return ExternalIdentity{}, fmt.Errorf("%w: user resource missing id", ErrExchangeFailed)
	}

	email := user.Email
	if email == "" {
		email, err = p.primaryEmail(ctx, client)
		if err != nil {
			return ExternalIdentity{}, err
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return ExternalIdentity{
		Provider:  p.Name(),
		Subject:   strconv.FormatInt(user.ID, 10),
		Email:     email,
		Name:      name,
		AvatarURL: user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := fetchJSON(ctx, client, p.emailsURL, p.timeout, p.maxRetries, &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}

	return "", nil
}
