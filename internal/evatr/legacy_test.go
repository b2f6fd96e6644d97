package evatr_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyResponse renders an XML-RPC answer of the evatrRPC endpoint. Values in
// overrides replace the defaults; an empty override removes the entry.
func legacyResponse(overrides map[string]string) string {
	entries := [][2]string{
		{"UstId_1", "DE123456789"},
		{"ErrorCode", "200"},
		{"UstId_2", "PTXXXXXXXX"},
		{"Druck", "nein"},
		{"Erg_PLZ", "A"},
		{"Ort", "Berlin"},
		{"Datum", "15.01.2026"},
		{"PLZ", "10111"},
		{"Erg_Ort", "A"},
		{"Uhrzeit", "10:12:44"},
		{"Erg_Name", "A"},
		{"Gueltig_ab", ""},
		{"Gueltig_bis", ""},
		{"Strasse", "Cheese Street"},
		{"Firmenname", "Kitty Kit"},
		{"Erg_Str", "A"},
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<params>\n")
	for _, e := range entries {
		value := e[1]
		if v, ok := overrides[e[0]]; ok {
			if v == "" {
				continue
			}
			value = v
		}
		fmt.Fprintf(&b, "<param>\n<value><array><data>\n<value><string>%s</string></value>\n<value><string>%s</string></value>\n</data></array></value>\n</param>\n", e[0], value)
	}
	b.WriteString("</params>\n")
	return b.String()
}

func TestLegacyResult_AllFieldsMatch(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(nil), true)

	assert.Empty(t, result.Errors())
	assert.Equal(t, map[evatr.Field]evatr.FieldResult{
		evatr.FieldName:   evatr.FieldOK,
		evatr.FieldStreet: evatr.FieldOK,
		evatr.FieldZip:    evatr.FieldOK,
		evatr.FieldCity:   evatr.FieldOK,
	}, result.Results())
	assert.True(t, result.Valid())
	assert.Equal(t, evatr.BackendLegacy, result.Backend())
}

func TestLegacyResult_Errors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		want      []evatr.Field
	}{
		{
			name:      "city does not match",
			overrides: map[string]string{"Erg_Ort": "B"},
			want:      []evatr.Field{evatr.FieldCity},
		},
		{
			name:      "name and street do not match",
			overrides: map[string]string{"Erg_Name": "B", "Erg_Str": "B"},
			want:      []evatr.Field{evatr.FieldName, evatr.FieldStreet},
		},
		{
			name:      "not provided and not reported are not errors",
			overrides: map[string]string{"Erg_PLZ": "C", "Erg_Ort": "D"},
			want:      nil,
		},
		{
			name:      "mixed letters",
			overrides: map[string]string{"Erg_PLZ": "B", "Erg_Ort": "C", "Erg_Str": "D"},
			want:      []evatr.Field{evatr.FieldZip},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := evatr.NewLegacyResult(legacyResponse(tt.overrides), true)
			assert.Equal(t, tt.want, result.Errors())
		})
	}
}

func TestLegacyResult_Results_LetterMapping(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{
		"Erg_Name": "A",
		"Erg_Str":  "B",
		"Erg_PLZ":  "C",
		"Erg_Ort":  "D",
	}), true)

	assert.Equal(t, map[evatr.Field]evatr.FieldResult{
		evatr.FieldName:   evatr.FieldOK,
		evatr.FieldStreet: evatr.FieldNoMatch,
		evatr.FieldZip:    evatr.FieldNotProvided,
		evatr.FieldCity:   evatr.FieldNotReported,
	}, result.Results())
}

func TestLegacyResult_Results_UnknownLetterIsKept(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{"Erg_Ort": "X"}), true)

	got, ok := result.Results()[evatr.FieldCity]
	assert.True(t, ok, "known result keys are always present")
	assert.Equal(t, evatr.FieldUnknown, got)
	assert.Empty(t, result.Errors())
}

func TestLegacyResult_Results_MissingEntriesAreAbsent(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{"Erg_PLZ": "", "Erg_Str": ""}), true)

	results := result.Results()
	assert.Len(t, results, 2)
	assert.NotContains(t, results, evatr.FieldZip)
	assert.NotContains(t, results, evatr.FieldStreet)
}

func TestLegacyResult_Valid(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"200", true},
		{"201", false},
		{"202", false},
		{"215", false},
		{"216", false},
		{"217", false},
		{"218", false},
		{"219", false},
		{"999", false},
		{"abc", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("code "+tt.code, func(t *testing.T) {
			result := evatr.NewLegacyResult(legacyResponse(map[string]string{"ErrorCode": tt.code}), true)
			assert.Equal(t, tt.want, result.Valid())
		})
	}
}

func TestLegacyResult_ErrorCode(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{"ErrorCode": "201"}), true)
	assert.Equal(t, 201, result.ErrorCode())
	assert.Equal(t, "201", result.StatusCode())

	missing := evatr.NewLegacyResult(legacyResponse(map[string]string{"ErrorCode": ""}), true)
	assert.Equal(t, 0, missing.ErrorCode())
	assert.Equal(t, "", missing.StatusCode())
}

func TestLegacyResult_CheckedVatID(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(nil), true)
	assert.Equal(t, "PTXXXXXXXX", result.CheckedVatID())
}

func TestLegacyResult_Entries(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{
		"ErrorCode":   "217",
		"Gueltig_ab":  "01.02.2026",
		"Gueltig_bis": "31.12.2026",
	}), true)

	assert.Equal(t, "01.02.2026", result.ValidFrom())
	assert.Equal(t, "31.12.2026", result.ValidTo())
	assert.Equal(t, "15.01.2026", result.RequestDate())
	assert.Equal(t, "Berlin", result.Entry("Ort"))
	assert.Equal(t, "", result.Entry("DoesNotExist"))
}

func TestLegacyResult_MalformedResponses(t *testing.T) {
	bodies := map[string]string{
		"empty":        "",
		"whitespace":   "   \n",
		"not xml":      "Service Temporarily Unavailable",
		"html":         "<html><body><h1>502 Bad Gateway</h1></body></html>",
		"truncated":    `<?xml version="1.0"?><params><param><value><array><data><value><string>ErrorCode</string>`,
		"json":         `{"status":"evatr-0000"}`,
		"empty params": `<?xml version="1.0"?><params></params>`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			result := evatr.NewLegacyResult(body, false)

			assert.NotPanics(t, func() {
				assert.False(t, result.Valid())
				assert.Empty(t, result.Results())
				assert.Empty(t, result.Errors())
				assert.Equal(t, "", result.CheckedVatID())
				assert.Equal(t, 0, result.ErrorCode())
			})
		})
	}
}

func TestLegacyResult_TruncatedKeepsEarlierEntries(t *testing.T) {
	body := `<?xml version="1.0"?><params>` +
		`<param><value><array><data><value><string>ErrorCode</string></value><value><string>200</string></value></data></array></value></param>` +
		`<param><value><array><data><value><string>Erg_Ort</string></value><value><string>B`

	result := evatr.NewLegacyResult(body, true)

	assert.True(t, result.Valid())
	assert.Empty(t, result.Results())
}

func TestLegacyResult_ISO88591Charset(t *testing.T) {
	// "München" with ü encoded as a single Latin-1 byte.
	body := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<params><param><value><array><data>" +
		"<value><string>Ort</string></value><value><string>M\xfcnchen</string></value>" +
		"</data></array></value></param></params>"

	result := evatr.NewLegacyResult(body, true)
	assert.Equal(t, "München", result.Entry("Ort"))
}

func TestLegacyResult_ParsingIsIdempotent(t *testing.T) {
	result := evatr.NewLegacyResult(legacyResponse(map[string]string{"Erg_Name": "B"}), true)

	first := result.Errors()
	second := result.Errors()
	assert.Equal(t, first, second)
	assert.Equal(t, result.Results(), result.Results())
}

func TestLegacyChecker_Check(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, legacyResponse(map[string]string{"Erg_Name": "B"}))
	}))
	defer server.Close()

	cfg := evatr.NewConfig()
	cfg.RequesterVat = "DE123456789"
	checker := evatr.NewLegacyChecker(cfg, evatr.WithEndpoint(server.URL), evatr.WithHTTPClient(server.Client()))

	result, err := checker.Check(context.Background(), evatr.Request{
		VAT:    "PT123456789",
		Name:   "Kitty Kit",
		City:   "Berlin",
		Street: "Cheese Street",
		Zip:    "10111",
	})

	require.NoError(t, err)
	assert.Equal(t, "DE123456789", form.Get("UstId_1"))
	assert.Equal(t, "PT123456789", form.Get("UstId_2"))
	assert.Equal(t, "Kitty Kit", form.Get("Firmenname"))
	assert.Equal(t, "Berlin", form.Get("Ort"))
	assert.Equal(t, "10111", form.Get("PLZ"))
	assert.Equal(t, "Cheese Street", form.Get("Strasse"))

	assert.True(t, result.Success())
	assert.True(t, result.Valid())
	assert.Equal(t, []evatr.Field{evatr.FieldName}, result.Errors())
	assert.Equal(t, legacyResponse(map[string]string{"Erg_Name": "B"}), result.Response())
}

func TestLegacyChecker_Check_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "maintenance")
	}))
	defer server.Close()

	checker := evatr.NewLegacyChecker(evatr.NewConfig(), evatr.WithEndpoint(server.URL))

	result, err := checker.Check(context.Background(), evatr.Request{VAT: "PT123456789"})

	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.False(t, result.Valid())
	assert.Equal(t, "maintenance", result.Response())
}

type failingClient struct {
	err error
}

func (c failingClient) Do(*http.Request) (*http.Response, error) {
	return nil, c.err
}

func TestLegacyChecker_Check_TransportErrorPropagates(t *testing.T) {
	netErr := errors.New("dial tcp: connection refused")
	checker := evatr.NewLegacyChecker(evatr.NewConfig(), evatr.WithHTTPClient(failingClient{err: netErr}))

	result, err := checker.Check(context.Background(), evatr.Request{VAT: "PT123456789"})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, netErr)

	var evErr *evatr.Error
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, evatr.CodeUnavailable, evErr.ErrorCode())
}

type addressRecord struct {
	name, city, street, zip string
}

func (r addressRecord) FullName() string { return r.name }
func (r addressRecord) City() string     { return r.city }
func (r addressRecord) Street() string   { return r.street }
func (r addressRecord) Zip() string      { return r.zip }

func TestLegacyChecker_CheckRecord(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		io.WriteString(w, legacyResponse(nil))
	}))
	defer server.Close()

	checker := evatr.NewLegacyChecker(evatr.NewConfig(), evatr.WithEndpoint(server.URL))

	record := addressRecord{name: "Kitty Kit", city: "Berlin", street: "Cheese Street", zip: "10111"}
	result, err := checker.CheckRecord(context.Background(), record, "PT123456789")

	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Equal(t, "PT123456789", form.Get("UstId_2"))
	assert.Equal(t, "Kitty Kit", form.Get("Firmenname"))
	assert.Equal(t, "Berlin", form.Get("Ort"))
	assert.Equal(t, "Cheese Street", form.Get("Strasse"))
	assert.Equal(t, "10111", form.Get("PLZ"))
}
