package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue wraps a Go value so database/sql marshals it to JSON on the way
// in and unmarshals it on the way out, for the jsonb "scopes"/"redirect_uris"
// style columns.
type jsonValue struct {
	ptr any
}

func jsonCol(ptr any) jsonValue { return jsonValue{ptr: ptr} }

func (j jsonValue) Value() (driver.Value, error) {
	b, err := json.Marshal(j.ptr)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb column: %w", err)
	}
	return b, nil
}

func (j jsonValue) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("jsonb column: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, j.ptr)
}
