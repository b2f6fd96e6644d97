package evatr_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobals restores the process-wide settings touched by a test.
func resetGlobals(t *testing.T) {
	t.Helper()
	legacyVat := evatr.LegacyConfig().RequesterVat
	restVat := evatr.RestConfig().RequesterVat
	useRest := evatr.UseRestAPI()
	t.Cleanup(func() {
		evatr.LegacyConfig().RequesterVat = legacyVat
		evatr.RestConfig().RequesterVat = restVat
		evatr.SetUseRestAPI(useRest)
	})
}

func TestConfig_BackendsAreIsolated(t *testing.T) {
	resetGlobals(t)

	evatr.LegacyConfig().RequesterVat = "DE111111111"
	evatr.RestConfig().RequesterVat = "DE222222222"

	assert.Equal(t, "DE111111111", evatr.LegacyConfig().RequesterVat)
	assert.Equal(t, "DE222222222", evatr.RestConfig().RequesterVat)
	assert.NotSame(t, evatr.LegacyConfig(), evatr.RestConfig())
	assert.Same(t, evatr.LegacyConfig(), evatr.ConfigFor(evatr.BackendLegacy))
	assert.Same(t, evatr.RestConfig(), evatr.ConfigFor(evatr.BackendRest))
}

func TestNewConfig_DefaultMapping(t *testing.T) {
	cfg := evatr.NewConfig()
	require.NotNil(t, cfg.Mapping)
	assert.Nil(t, cfg.Recorder)
	assert.Nil(t, cfg.Jobs)

	fields := cfg.Mapping(addressRecord{name: "Kitty Kit", city: "Berlin", street: "Cheese Street", zip: "10111"})
	assert.Equal(t, evatr.AddressFields{Name: "Kitty Kit", City: "Berlin", Street: "Cheese Street", Zip: "10111"}, fields)

	assert.Equal(t, evatr.AddressFields{}, cfg.Mapping(struct{}{}))
}

func TestSetUseRestAPI(t *testing.T) {
	resetGlobals(t)

	evatr.SetUseRestAPI(false)
	assert.False(t, evatr.UseRestAPI())
	assert.Equal(t, evatr.BackendLegacy, evatr.ActiveBackend())

	checker := evatr.Active()
	assert.Equal(t, evatr.BackendLegacy, checker.Backend())
	assert.Same(t, evatr.LegacyConfig(), checker.Config())

	evatr.SetUseRestAPI(true)
	assert.True(t, evatr.UseRestAPI())
	assert.Equal(t, evatr.BackendRest, evatr.ActiveBackend())

	checker = evatr.Active()
	assert.Equal(t, evatr.BackendRest, checker.Backend())
	assert.Same(t, evatr.RestConfig(), checker.Config())
}

func TestActive_UsesBackendRequesterVat(t *testing.T) {
	resetGlobals(t)

	evatr.LegacyConfig().RequesterVat = "DE111111111"
	evatr.RestConfig().RequesterVat = "DE222222222"
	evatr.SetUseRestAPI(true)

	var requester string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		requester = string(body)
		io.WriteString(w, `{"status":"evatr-0000"}`)
	}))
	defer server.Close()

	_, err := evatr.Active(evatr.WithEndpoint(server.URL)).Check(context.Background(), evatr.Request{VAT: "FR12345678901"})

	require.NoError(t, err)
	assert.Contains(t, requester, `"anfragendeUstid":"DE222222222"`)
}

func TestNewChecker_NilConfigUsesGlobal(t *testing.T) {
	assert.Same(t, evatr.LegacyConfig(), evatr.NewLegacyChecker(nil).Config())
	assert.Same(t, evatr.RestConfig(), evatr.NewRestChecker(nil).Config())
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		input   string
		want    evatr.Backend
		wantErr bool
	}{
		{"legacy", evatr.BackendLegacy, false},
		{"rest", evatr.BackendRest, false},
		{"REST", "", true},
		{"", "", true},
		{"soap", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := evatr.ParseBackend(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var evErr *evatr.Error
				require.ErrorAs(t, err, &evErr)
				assert.Equal(t, evatr.CodeInvalid, evErr.ErrorCode())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockChecker(t *testing.T) {
	mock := evatr.NewMockChecker()

	result, err := mock.CheckRecord(context.Background(), addressRecord{name: "Kitty Kit"}, "FR12345678901")
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Equal(t, "FR12345678901", result.CheckedVatID())

	var seen evatr.Request
	mock.CheckFunc = func(ctx context.Context, req evatr.Request) (evatr.Result, error) {
		seen = req
		return evatr.NewLegacyResult("", false), nil
	}

	result, err = mock.CheckRecord(context.Background(), addressRecord{name: "Kitty Kit", city: "Berlin"}, "DE123456789")
	require.NoError(t, err)
	assert.False(t, result.Valid())
	assert.Equal(t, evatr.Request{VAT: "DE123456789", Name: "Kitty Kit", City: "Berlin"}, seen)
}
