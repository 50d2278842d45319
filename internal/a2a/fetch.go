package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/kadirpekel/orchestra/internal/httpclient"
)

// Fetcher resolves an AgentCard from its URL.
type Fetcher struct {
	http *httpclient.Client
}

// NewFetcher builds a Fetcher using the given HTTP client (TLS
// configuration lives on the client).
func NewFetcher(client *httpclient.Client) *Fetcher {
	return &Fetcher{http: client}
}

// Fetch retrieves and JSON-decodes the card at cardURL, bounded by ctx.
func (f *Fetcher) Fetch(ctx context.Context, cardURL string) (*AgentCard, error) {
	resp, err := f.http.Get(ctx, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: fetch card %s: %w", cardURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("a2a: card %s returned HTTP %d", cardURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("a2a: read card body: %w", err)
	}

	var card AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("a2a: parse card json: %w", err)
	}

	return &card, nil
}

// ProbeInvocationEndpoint performs a best-effort GET against the card's
// invocation endpoint: a failed probe downgrades confidence but never
// rejects the card outright.
func (f *Fetcher) ProbeInvocationEndpoint(ctx context.Context, endpoint string) bool {
	resp, err := f.http.Get(ctx, endpoint, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// IsSecureTransport reports whether the given URL uses a confidentiality-
// providing transport.
func IsSecureTransport(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https")
}
