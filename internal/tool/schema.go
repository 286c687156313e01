package tool

import (
	"bytes"
	"encoding/json"
	"io"
)

// mustJSONReader wraps a tool's static schema bytes as an io.Reader for
// jsonschema.Compiler.AddResource. Schemas are authored by us at compile
// time, so a malformed schema is a programmer error caught by Register's
// panic, not a runtime condition.
func mustJSONReader(raw json.RawMessage) io.Reader {
	return bytes.NewReader(raw)
}
