package evatr

import "context"

// MockChecker is a test implementation of Checker.
type MockChecker struct {
	BackendValue    Backend
	ConfigValue     *Config
	CheckFunc       func(ctx context.Context, req Request) (Result, error)
	CheckRecordFunc func(ctx context.Context, record any, vat string) (Result, error)
}

// NewMockChecker creates a mock checker that answers every check with a
// valid REST result.
func NewMockChecker() *MockChecker {
	return &MockChecker{
		BackendValue: BackendRest,
		ConfigValue:  NewConfig(),
	}
}

func (m *MockChecker) Backend() Backend { return m.BackendValue }

func (m *MockChecker) Config() *Config { return m.ConfigValue }

// Check delegates to the configured function or returns a valid result.
func (m *MockChecker) Check(ctx context.Context, req Request) (Result, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, req)
	}
	return NewRestResult(`{"status":"evatr-0000","angefragteUstid":"`+req.VAT+`"}`, true), nil
}

// CheckRecord delegates to the configured function, falling back to Check
// with the config's mapping.
func (m *MockChecker) CheckRecord(ctx context.Context, record any, vat string) (Result, error) {
	if m.CheckRecordFunc != nil {
		return m.CheckRecordFunc(ctx, record, vat)
	}
	cfg := m.ConfigValue
	if cfg == nil {
		cfg = NewConfig()
	}
	return m.Check(ctx, requestFromRecord(cfg, record, vat))
}

var _ Checker = (*MockChecker)(nil)
