package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrExchangeFailed is returned when the provider rejects the authorization
// code or the userinfo fetch fails after retries.
var ErrExchangeFailed = errors.New("provider exchange failed")

// ExternalIdentity is the normalized result of a provider exchange. The
// Subject is the provider-scoped stable user ID; callers bind it to a local
// identity.
type ExternalIdentity struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// Provider exchanges an OAuth2 authorization code for a normalized external
// identity.
type Provider interface {
	Name() string
	Exchange(ctx context.Context, code string) (ExternalIdentity, error)
}

// Config holds the provider credentials plus test overrides for the token
// and userinfo endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides the provider default when set. Used by tests to
	// point at a local server.
	Endpoint *oauth2.Endpoint
	// UserInfoURL overrides the provider default when set.
	UserInfoURL string

	// Timeout bounds each HTTP round trip. Zero means 10 seconds.
	Timeout time.Duration
	// MaxRetries bounds retries of timed-out userinfo fetches. The code
	// exchange itself is never retried because authorization codes are
	// single use.
	MaxRetries int
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

func (c Config) maxRetries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	if c.MaxRetries > 5 {
		return 5
	}
	return c.MaxRetries
}

// exchangeCode runs the authorization-code grant with a bounded per-attempt
// timeout.
func exchangeCode(ctx context.Context, cfg *oauth2.Config, timeout time.Duration, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if !token.Valid() {
		return nil, fmt.Errorf("%w: received invalid token", ErrExchangeFailed)
	}
	return token, nil
}

// fetchJSON performs an authorized GET and decodes the JSON body into out.
// Timed-out attempts are retried up to maxRetries times; HTTP errors are
// terminal because they will not heal on retry.
func fetchJSON(
	ctx context.Context,
	client *http.Client,
	url string,
	timeout time.Duration,
	maxRetries int,
	out interface{},
) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, err := fetchOnce(ctx, client, url, timeout)
		if err == nil {
			if decErr := json.Unmarshal(body, out); decErr != nil {
				return fmt.Errorf("%w: decode userinfo: %v", ErrExchangeFailed, decErr)
			}
			return nil
		}

		lastErr = err
		if !isTimeout(err) || ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("%w: %v", ErrExchangeFailed, lastErr)
}

func fetchOnce(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
