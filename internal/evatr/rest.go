package evatr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Status is the semantic class of a REST status code.
type Status string

const (
	StatusUnrecognized    Status = ""
	StatusValid           Status = "valid"
	StatusValidFromDate   Status = "valid_from_date"
	StatusPreviouslyValid Status = "previously_valid"
	StatusValidWithNotes  Status = "valid_with_notes"
)

// REST status codes with a known meaning.
const (
	RestCodeValid           = "evatr-0000"
	RestCodeValidFromDate   = "evatr-2002"
	RestCodePreviouslyValid = "evatr-2006"
	RestCodeValidWithNotes  = "evatr-2008"
)

var restStatuses = map[string]Status{
	RestCodeValid:           StatusValid,
	RestCodeValidFromDate:   StatusValidFromDate,
	RestCodePreviouslyValid: StatusPreviouslyValid,
	RestCodeValidWithNotes:  StatusValidWithNotes,
}

// restFields maps the REST result keys to address fields.
var restFields = map[string]Field{
	"ergPlz":        FieldZip,
	"ergOrt":        FieldCity,
	"ergFirmenname": FieldName,
	"ergStrasse":    FieldStreet,
}

// restRequest is the JSON body of a REST check.
type restRequest struct {
	RequesterVat string `json:"anfragendeUstid,omitempty"`
	VAT          string `json:"angefragteUstid,omitempty"`
	Name         string `json:"firmenname,omitempty"`
	Street       string `json:"strasse,omitempty"`
	Zip          string `json:"plz,omitempty"`
	City         string `json:"ort,omitempty"`
}

// RestChecker talks to the JSON REST endpoint of the eVatR service.
type RestChecker struct {
	config *Config
	opts   options
}

// NewRestChecker creates a checker for the REST backend. A nil config
// selects the process-wide RestConfig.
func NewRestChecker(cfg *Config, opts ...Option) *RestChecker {
	if cfg == nil {
		cfg = RestConfig()
	}
	return &RestChecker{
		config: cfg,
		opts:   buildOptions(DefaultRestURL, opts),
	}
}

func (c *RestChecker) Backend() Backend { return BackendRest }

func (c *RestChecker) Config() *Config { return c.config }

// Check posts req to the service. It never returns an error: transport
// failures produce an unsuccessful Result whose body is {"error": "..."}.
func (c *RestChecker) Check(ctx context.Context, req Request) (Result, error) {
	logger := c.opts.logger.With("backend", BackendRest, "vat", req.VAT)

	body, success, err := c.post(ctx, req)
	if err != nil {
		logger.Warn("rest check failed", "error", err)
		return NewRestResult(failureBody(err), false), nil
	}

	result := NewRestResult(body, success)

	logger.Info("rest check completed",
		slog.Bool("success", result.Success()),
		slog.String("status_code", result.StatusCode()),
	)

	return result, nil
}

// CheckRecord derives the address from record via the configured mapping and
// checks it together with vat.
func (c *RestChecker) CheckRecord(ctx context.Context, record any, vat string) (Result, error) {
	return c.Check(ctx, requestFromRecord(c.config, record, vat))
}

// post performs the HTTP call and returns the body to store. Any error is a
// transport-level failure.
func (c *RestChecker) post(ctx context.Context, req Request) (string, bool, error) {
	payload, err := json.Marshal(restRequest{
		RequesterVat: c.config.RequesterVat,
		VAT:          req.VAT,
		Name:         req.Name,
		Street:       req.Street,
		Zip:          req.Zip,
		City:         req.City,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.opts.endpoint, "/") + restCheckPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.opts.client.Do(httpReq)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}

	var stored bytes.Buffer
	if err := json.Compact(&stored, raw); err != nil {
		return "", false, fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
	}

	return stored.String(), resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// failureBody is the body stored for transport failures.
func failureBody(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// RestResult is the outcome of a check against the REST backend.
type RestResult struct {
	response string
	success  bool

	once sync.Once
	data map[string]any
}

// NewRestResult wraps a raw JSON response body.
func NewRestResult(response string, success bool) *RestResult {
	return &RestResult{response: response, success: success}
}

// parsed decodes the body once. Malformed JSON or a non-object body yields nil.
func (r *RestResult) parsed() map[string]any {
	r.once.Do(func() {
		var data map[string]any
		if err := json.Unmarshal([]byte(r.response), &data); err == nil {
			r.data = data
		}
	})
	return r.data
}

// str returns the string value stored under key, "" when absent or not a string.
func (r *RestResult) str(key string) string {
	s, _ := r.parsed()[key].(string)
	return s
}

func (r *RestResult) Backend() Backend { return BackendRest }

func (r *RestResult) Success() bool { return r.success }

func (r *RestResult) Response() string { return r.response }

// StatusCode returns the evatr-NNNN code, "" when absent.
func (r *RestResult) StatusCode() string { return r.str("status") }

// Status classifies StatusCode.
func (r *RestResult) Status() Status {
	return restStatuses[r.StatusCode()]
}

// Valid is true only for evatr-0000. The qualified codes (valid from a
// future date, previously valid, valid with notes) are recognized by Status
// but are not valid.
func (r *RestResult) Valid() bool {
	return r.StatusCode() == RestCodeValid
}

func (r *RestResult) Results() map[Field]FieldResult {
	results := make(map[Field]FieldResult)
	data := r.parsed()
	if data == nil {
		return results
	}
	for key, field := range restFields {
		letter, ok := data[key].(string)
		if !ok {
			continue
		}
		results[field] = mapLetter(letter)
	}
	return results
}

func (r *RestResult) Errors() []Field {
	return noMatchFields(r.Results())
}

func (r *RestResult) CheckedVatID() string { return r.str("angefragteUstid") }

func (r *RestResult) ValidFrom() string { return r.str("gueltigAb") }

func (r *RestResult) ValidTo() string { return r.str("gueltigBis") }

func (r *RestResult) RequestDate() string { return r.str("datum") }

// RequestID is the identifier the service assigned to the query.
func (r *RestResult) RequestID() string { return r.str("id") }

// RequestedAt is the service timestamp of the query.
func (r *RestResult) RequestedAt() string { return r.str("anfrageZeitpunkt") }

// ErrorMessage returns the message of a synthetic transport failure body.
func (r *RestResult) ErrorMessage() string { return r.str("error") }

var (
	_ Checker = (*RestChecker)(nil)
	_ Result  = (*RestResult)(nil)
)
