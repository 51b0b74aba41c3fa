package lookup

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sequelae-ai/tokenize/pkg/common/logger"
)

// Auth carries optional OAuth2 client-credentials for remote table hosts.
// A zero value means unauthenticated fetches.
type Auth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (a Auth) enabled() bool {
	return a.TokenURL != ""
}

// Source fetches lookup tables over HTTP.
type Source struct {
	client  *http.Client
	timeout time.Duration
}

func NewSource(ctx context.Context, auth Auth, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := newHTTPClient(timeout)
	if !auth.enabled() {
		return &Source{client: base, timeout: timeout}
	}

	cc := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return &Source{client: cc.Client(ctx), timeout: timeout}
}

// FetchTable downloads a CSV document and parses it keyed by keyColumn.
// Transient failures are retried with exponential backoff.
func (s *Source) FetchTable(ctx context.Context, url string, keyColumn string) (*Table, error) {
	var table *Table

	err := retry(ctx, 3, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lookup host returned status %d for %s", resp.StatusCode, url)
		}

		table, err = Read(resp.Body, keyColumn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lookup table %s: %w", url, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"url":  url,
		"rows": table.Len(),
	}).Info("Fetched remote lookup table")

	return table, nil
}

// Resolve loads a table from a local path or, for http(s) refs, from a
// remote host.
func Resolve(ctx context.Context, ref string, keyColumn string, auth Auth, timeout time.Duration) (*Table, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return NewSource(ctx, auth, timeout).FetchTable(ctx, ref, keyColumn)
	}
	return Open(ref, keyColumn)
}

// newHTTPClient is tuned for outbound service-to-service communication.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// retry executes fn with simple exponential backoff retry semantics.
func retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		// Do not sleep after last attempt
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		// exponential backoff with cap
		delay *= 2
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}
	}

	return err
}
