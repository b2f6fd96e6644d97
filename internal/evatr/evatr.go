// Package evatr verifies EU VAT identification numbers and the registered
// address of a business against the BZSt eVatR service.
//
// Two backends are supported: the legacy XML-RPC endpoint and the JSON REST
// endpoint. Both produce a Result with per-field match outcomes, an overall
// validity flag and the raw response body.
package evatr

import "context"

// Backend identifies which eVatR endpoint a checker talks to.
type Backend string

const (
	BackendLegacy Backend = "legacy"
	BackendRest   Backend = "rest"
)

// Field names one of the address fields compared by the service.
type Field string

const (
	FieldName   Field = "name"
	FieldCity   Field = "city"
	FieldStreet Field = "street"
	FieldZip    Field = "zip"
)

// fieldOrder is the order in which Errors reports mismatching fields.
var fieldOrder = []Field{FieldName, FieldStreet, FieldZip, FieldCity}

// FieldResult is the service's verdict for a single address field.
type FieldResult string

const (
	// FieldUnknown is stored when the service returned a letter outside the
	// documented A-D range.
	FieldUnknown     FieldResult = ""
	FieldOK          FieldResult = "ok"
	FieldNoMatch     FieldResult = "no_match"
	FieldNotProvided FieldResult = "not_provided"
	FieldNotReported FieldResult = "not_reported"
)

// resultLetters maps the one-letter codes used by both backends.
var resultLetters = map[string]FieldResult{
	"A": FieldOK,
	"B": FieldNoMatch,
	"C": FieldNotProvided,
	"D": FieldNotReported,
}

// Request carries the values sent to the service for one check.
type Request struct {
	VAT    string
	Name   string
	City   string
	Street string
	Zip    string
}

// Result is the normalized outcome of one check.
//
// Parsing is lazy and never fails: a malformed or empty body simply yields
// no field results, an empty status code and Valid() == false.
type Result interface {
	Backend() Backend

	// Success reports whether the transport delivered a successful response.
	Success() bool

	// Response returns the raw body as stored (XML for legacy, JSON for REST).
	Response() string

	Valid() bool

	// StatusCode returns the backend-specific overall code as text.
	StatusCode() string

	// Results maps each reported field to its outcome. Fields missing from
	// the response are missing from the map.
	Results() map[Field]FieldResult

	// Errors lists the fields the service reported as not matching.
	Errors() []Field

	// CheckedVatID is the VAT ID as echoed by the service.
	CheckedVatID() string
}

// Checker runs checks against one backend.
type Checker interface {
	Backend() Backend
	Config() *Config
	Check(ctx context.Context, req Request) (Result, error)
	CheckRecord(ctx context.Context, record any, vat string) (Result, error)
}

// mapLetter converts a service letter code into a FieldResult.
func mapLetter(letter string) FieldResult {
	return resultLetters[letter]
}

// noMatchFields returns the fields in results whose outcome is FieldNoMatch.
func noMatchFields(results map[Field]FieldResult) []Field {
	var fields []Field
	for _, f := range fieldOrder {
		if r, ok := results[f]; ok && r == FieldNoMatch {
			fields = append(fields, f)
		}
	}
	return fields
}

// requestFromRecord builds a Request using the config's mapping function.
func requestFromRecord(cfg *Config, record any, vat string) Request {
	mapping := cfg.Mapping
	if mapping == nil {
		mapping = DefaultMapping
	}
	fields := mapping(record)
	return Request{
		VAT:    vat,
		Name:   fields.Name,
		City:   fields.City,
		Street: fields.Street,
		Zip:    fields.Zip,
	}
}
