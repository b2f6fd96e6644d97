package evatr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// legacyValidCode is the only ErrorCode the XML-RPC service uses for a valid ID.
const legacyValidCode = 200

// legacyFields maps the XML-RPC result keys to address fields.
var legacyFields = map[string]Field{
	"Erg_PLZ":  FieldZip,
	"Erg_Ort":  FieldCity,
	"Erg_Name": FieldName,
	"Erg_Str":  FieldStreet,
}

// LegacyChecker talks to the XML-RPC endpoint of the eVatR service.
type LegacyChecker struct {
	config *Config
	opts   options
}

// NewLegacyChecker creates a checker for the XML-RPC backend. A nil config
// selects the process-wide LegacyConfig.
func NewLegacyChecker(cfg *Config, opts ...Option) *LegacyChecker {
	if cfg == nil {
		cfg = LegacyConfig()
	}
	return &LegacyChecker{
		config: cfg,
		opts:   buildOptions(DefaultLegacyURL, opts),
	}
}

func (c *LegacyChecker) Backend() Backend { return BackendLegacy }

func (c *LegacyChecker) Config() *Config { return c.config }

// Check posts req to the service. Transport failures are returned as errors;
// they are not folded into the Result.
func (c *LegacyChecker) Check(ctx context.Context, req Request) (Result, error) {
	logger := c.opts.logger.With("backend", BackendLegacy, "vat", req.VAT)

	form := url.Values{}
	form.Set("UstId_1", c.config.RequesterVat)
	form.Set("UstId_2", req.VAT)
	form.Set("Firmenname", req.Name)
	form.Set("Ort", req.City)
	form.Set("PLZ", req.Zip)
	form.Set("Strasse", req.Street)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.opts.client.Do(httpReq)
	if err != nil {
		logger.Error("legacy check failed", "error", err)
		return nil, ErrTransport("evatr.legacy.check", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("failed to read legacy response", "error", err)
		return nil, ErrTransport("evatr.legacy.check", err)
	}

	result := NewLegacyResult(string(body), resp.StatusCode >= 200 && resp.StatusCode < 300)

	logger.Info("legacy check completed",
		slog.Bool("success", result.Success()),
		slog.String("status_code", result.StatusCode()),
	)

	return result, nil
}

// CheckRecord derives the address from record via the configured mapping and
// checks it together with vat.
func (c *LegacyChecker) CheckRecord(ctx context.Context, record any, vat string) (Result, error) {
	return c.Check(ctx, requestFromRecord(c.config, record, vat))
}

// LegacyResult is the outcome of a check against the XML-RPC backend.
type LegacyResult struct {
	response string
	success  bool

	once    sync.Once
	entries []legacyEntry
}

// NewLegacyResult wraps a raw XML-RPC response body.
func NewLegacyResult(response string, success bool) *LegacyResult {
	return &LegacyResult{response: response, success: success}
}

func (r *LegacyResult) parsed() []legacyEntry {
	r.once.Do(func() {
		r.entries = parseLegacyEntries(r.response)
	})
	return r.entries
}

// Entry returns the value of the response entry named key, or "" when the
// response has no such entry.
func (r *LegacyResult) Entry(key string) string {
	for _, e := range r.parsed() {
		if e.Key == key {
			return e.Value
		}
	}
	return ""
}

func (r *LegacyResult) Backend() Backend { return BackendLegacy }

func (r *LegacyResult) Success() bool { return r.success }

func (r *LegacyResult) Response() string { return r.response }

// ErrorCode returns the numeric code reported by the service, 0 if missing.
func (r *LegacyResult) ErrorCode() int {
	return leadingInt(r.Entry("ErrorCode"))
}

// Valid reports whether the service answered with code 200. Every other
// code, including the "valid from" and "no longer valid" variants, is invalid.
func (r *LegacyResult) Valid() bool {
	return r.ErrorCode() == legacyValidCode
}

// StatusCode returns ErrorCode as text, or "" when the response carries none.
func (r *LegacyResult) StatusCode() string {
	code := r.ErrorCode()
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}

// Results maps every Erg_* entry of the response. A known entry with an
// unrecognized letter is kept as FieldUnknown.
func (r *LegacyResult) Results() map[Field]FieldResult {
	results := make(map[Field]FieldResult)
	for _, e := range r.parsed() {
		if !strings.Contains(e.Key, "Erg") {
			continue
		}
		field, ok := legacyFields[e.Key]
		if !ok {
			continue
		}
		results[field] = mapLetter(e.Value)
	}
	return results
}

func (r *LegacyResult) Errors() []Field {
	return noMatchFields(r.Results())
}

func (r *LegacyResult) CheckedVatID() string {
	return r.Entry("UstId_2")
}

// ValidFrom returns the Gueltig_ab entry, set by the service for IDs that
// become valid in the future.
func (r *LegacyResult) ValidFrom() string { return r.Entry("Gueltig_ab") }

// ValidTo returns the Gueltig_bis entry, set for IDs that are no longer valid.
func (r *LegacyResult) ValidTo() string { return r.Entry("Gueltig_bis") }

// RequestDate returns the Datum entry.
func (r *LegacyResult) RequestDate() string { return r.Entry("Datum") }

var (
	_ Checker = (*LegacyChecker)(nil)
	_ Result  = (*LegacyResult)(nil)
)
