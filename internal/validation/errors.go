package validation

import "github.com/dukerupert/evatr/internal/evatr"

// Errors is an ErrorAdder keyed by attribute name.
type Errors map[string][]string

// Add appends code to the errors of attribute.
func (e Errors) Add(attribute, code string) {
	e[attribute] = append(e[attribute], code)
}

// On returns the codes recorded for attribute.
func (e Errors) On(attribute string) []string {
	return e[attribute]
}

// Empty reports whether no errors were added.
func (e Errors) Empty() bool {
	return len(e) == 0
}

var messages = map[string]string{
	CodeFailure:                  "could not be verified because the eVatR service did not answer",
	CodeInvalid:                  "is not a valid VAT identification number",
	FieldCode(evatr.FieldName):   "does not match the registered company name",
	FieldCode(evatr.FieldStreet): "does not match the registered street",
	FieldCode(evatr.FieldZip):    "does not match the registered postal code",
	FieldCode(evatr.FieldCity):   "does not match the registered city",
}

// Message returns the English text for an error code, or the code itself
// when it has none.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return code
}

// Messages translates every code of attribute.
func (e Errors) Messages(attribute string) []string {
	codes := e[attribute]
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, Message(c))
	}
	return out
}
