package evatr

import (
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"
)

// legacyEntry is one <data> array of the XML-RPC response: the first value
// names the entry, the last one carries its content.
type legacyEntry struct {
	Key   string
	Value string
}

// parseLegacyEntries walks an XML-RPC params document and returns its
// key/value arrays in document order. Parsing stops quietly at the first
// syntax error; whatever was read up to that point is returned.
func parseLegacyEntries(body string) []legacyEntry {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	dec := xml.NewDecoder(strings.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var (
		entries    []legacyEntry
		values     []string
		dataDepth  int
		valueDepth int
		text       strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			return entries
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "data":
				dataDepth++
				if dataDepth == 1 {
					values = values[:0]
				}
			case "value":
				if dataDepth == 1 {
					valueDepth++
					if valueDepth == 1 {
						text.Reset()
					}
				}
			}

		case xml.CharData:
			if dataDepth == 1 && valueDepth > 0 {
				text.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "value":
				if dataDepth == 1 && valueDepth > 0 {
					valueDepth--
					if valueDepth == 0 {
						values = append(values, strings.TrimSpace(text.String()))
					}
				}
			case "data":
				if dataDepth == 1 && len(values) > 0 {
					entries = append(entries, legacyEntry{
						Key:   values[0],
						Value: values[len(values)-1],
					})
				}
				if dataDepth > 0 {
					dataDepth--
				}
			}
		}
	}
}

// leadingInt parses the leading decimal digits of s, returning 0 when there
// are none.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		if n > 1_000_000 {
			break
		}
	}
	return n
}
