package explorer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keypay/keypay/internal/models"
)

const (
	// APIKeyHeader is the header TronGrid and Tronscan read the API key from
	APIKeyHeader = "TRON-PRO-API-KEY"
	// maxBodySize caps how much of an explorer response is read
	maxBodySize = 4 << 20
)

// Provider is a named source of incoming TRC20 transfers for an address.
type Provider interface {
	Name() string
	Transfers(ctx context.Context, address string) ([]models.Transfer, error)
}

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindParse     ErrorKind = "parse"
)

// ProviderError is the typed failure of a single provider call.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s: unexpected status code %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// URLBuilder renders the request URL for an address.
type URLBuilder func(address string) string

// HTTPProvider fetches transfers from an explorer REST endpoint.
type HTTPProvider struct {
	name   string
	build  URLBuilder
	apiKey string
	client *http.Client
}

// NewHTTPProvider creates a provider. An empty apiKey sends no key header.
func NewHTTPProvider(name string, build URLBuilder, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPProvider{name: name, build: build, apiKey: apiKey, client: client}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Transfers(ctx context.Context, address string) ([]models.Transfer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.build(address), nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(APIKeyHeader, p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Provider: p.name, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: KindTransport, Err: err}
	}

	transfers, err := Normalize(body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: KindParse, Err: err}
	}
	return transfers, nil
}

// Options configures the default TRON provider list.
type Options struct {
	TronGridURL    string
	TronscanURL    string
	USDTContract   string
	APIKey         string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// DefaultProviders returns the explorer providers in priority order:
// the TronGrid indexer first, then the Tronscan mirrors.
func DefaultProviders(opts Options) []Provider {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	trongrid := strings.TrimRight(opts.TronGridURL, "/")
	tronscan := strings.TrimRight(opts.TronscanURL, "/")
	contract := url.QueryEscape(opts.USDTContract)

	return []Provider{
		NewHTTPProvider("trongrid", func(address string) string {
			return fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?only_to=true&contract_address=%s&order_by=block_timestamp%%2Cdesc&limit=50",
				trongrid, url.PathEscape(address), contract)
		}, opts.APIKey, client),
		NewHTTPProvider("tronscan", func(address string) string {
			return fmt.Sprintf("%s/api/token_trc20/transfers?limit=20&start=0&sort=-timestamp&toAddress=%s&contract_address=%s",
				tronscan, url.QueryEscape(address), contract)
		}, opts.APIKey, client),
		NewHTTPProvider("tronscan-new", func(address string) string {
			return fmt.Sprintf("%s/api/new/token_trc20/transfers?limit=20&start=0&sort=-timestamp&toAddress=%s&contract_address=%s",
				tronscan, url.QueryEscape(address), contract)
		}, opts.APIKey, client),
		NewHTTPProvider("tronscan-legacy", func(address string) string {
			return fmt.Sprintf("%s/api/token_trc20/transfers?toAddress=%s&contract_address=%s",
				tronscan, url.QueryEscape(address), contract)
		}, opts.APIKey, client),
	}
}
