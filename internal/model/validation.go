package model

import (
	"encoding/json"
	"fmt"
)

// Validation is the user's decision on an AI suggestion.
type Validation int

// Validation states.
const (
	Unvalidated Validation = iota
	Accepted
	Rejected
)

// String returns a readable name for the state.
func (v Validation) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unvalidated"
	}
}

// ValidationFromBool maps a user decision to a validation state.
func ValidationFromBool(validated bool) Validation {
	if validated {
		return Accepted
	}
	return Rejected
}

// Bool returns the decision as a nullable boolean (nil when unvalidated).
func (v Validation) Bool() *bool {
	switch v {
	case Accepted:
		b := true
		return &b
	case Rejected:
		b := false
		return &b
	default:
		return nil
	}
}

// ValidationFromPtr is the inverse of Bool.
func ValidationFromPtr(b *bool) Validation {
	if b == nil {
		return Unvalidated
	}
	return ValidationFromBool(*b)
}

// MarshalJSON encodes the state as null, true or false.
func (v Validation) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Bool())
}

// UnmarshalJSON decodes null, true or false.
func (v *Validation) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalid validation value %s: %w", string(data), err)
	}
	*v = ValidationFromPtr(b)
	return nil
}
