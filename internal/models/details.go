package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Details is the free-form JSON document attached to a game record.
type Details map[string]interface{}

// Merge returns a new document holding the keys of d and other. Keys in other win.
// Neither input is modified.
func (d Details) Merge(other Details) Details {
	out := make(Details, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy.
func (d Details) Clone() Details {
	return Details{}.Merge(d)
}

// Value stores Details as a JSON document.
func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan reads a JSON document column into Details.
func (d *Details) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = Details{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Details", src)
	}
	out := Details{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode details: %w", err)
		}
	}
	*d = out
	return nil
}
