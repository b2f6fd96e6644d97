package evatr

import (
	"log/slog"
	"net/http"
)

const (
	// DefaultLegacyURL is the XML-RPC endpoint of the eVatR service.
	DefaultLegacyURL = "https://evatr.bff-online.de/evatrRPC"

	// DefaultRestURL is the base URL of the eVatR REST API.
	DefaultRestURL = "https://api.evatr.vies.bzst.de"

	restCheckPath = "/app/v1/abfrage"
)

// HTTPClient is the subset of *http.Client used by the checkers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type options struct {
	client   HTTPClient
	endpoint string
	logger   *slog.Logger
}

// Option customizes a checker.
type Option func(*options)

// WithHTTPClient sets the client used for calls to the service. Timeouts are
// whatever the client enforces.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithEndpoint overrides the service URL. For the REST backend this is the
// base URL; the check path is appended.
func WithEndpoint(url string) Option {
	return func(o *options) {
		if url != "" {
			o.endpoint = url
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(defaultEndpoint string, opts []Option) options {
	o := options{
		client:   http.DefaultClient,
		endpoint: defaultEndpoint,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
