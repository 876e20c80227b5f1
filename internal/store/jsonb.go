package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"payments-onboarding/internal/onboarding"
)

// JSONBStatuses maps status markers to unix timestamps for JSONB storage.
type JSONBStatuses map[onboarding.Status]int64

// Value implements the driver.Valuer interface for database storage
func (j JSONBStatuses) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[onboarding.Status]int64(j))
}

// Scan implements the sql.Scanner interface for database retrieval
func (j *JSONBStatuses) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBStatuses", value)
	}

	var m map[onboarding.Status]int64
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*j = JSONBStatuses(m)
	return nil
}

// JSONBGeneric handles generic JSONB data
type JSONBGeneric map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONBGeneric) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(j))
}

// Scan implements the sql.Scanner interface
func (j *JSONBGeneric) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBGeneric", value)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(bytes, &data); err != nil {
		return err
	}
	*j = JSONBGeneric(data)
	return nil
}

// JSONBErrorDetail wraps the step error triple for nullable JSONB storage.
type JSONBErrorDetail struct {
	Detail *onboarding.ErrorDetail
}

// Value implements the driver.Valuer interface
func (j JSONBErrorDetail) Value() (driver.Value, error) {
	if j.Detail == nil {
		return nil, nil
	}
	return json.Marshal(j.Detail)
}

// Scan implements the sql.Scanner interface
func (j *JSONBErrorDetail) Scan(value interface{}) error {
	if value == nil {
		j.Detail = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBErrorDetail", value)
	}

	var detail onboarding.ErrorDetail
	if err := json.Unmarshal(bytes, &detail); err != nil {
		return err
	}
	j.Detail = &detail
	return nil
}
