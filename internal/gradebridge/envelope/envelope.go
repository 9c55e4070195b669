// Package envelope opens the hybrid RSA+AES envelopes submitted through
// the intake form.
//
// Each envelope carries one AES key, RSA-encrypted under the service's
// public key, and one IV.  The user identifier and every file body are
// AES-CBC ciphertexts under that key/IV pair.  Course, assignment and
// grading fields travel in the clear.
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// wireEnvelope is the JSON form of a payload.  Unknown keys are ignored;
// every field is optional here and checked once in Decrypt or by the
// processor.
type wireEnvelope struct {
	AESKey       string     `json:"aesKey"`
	IV           string     `json:"iv"`
	User         string     `json:"user"`
	Files        []wireFile `json:"files"`
	CourseID     idList     `json:"courseid"`
	AssignmentID idList     `json:"assignmentid"`
	Points       flexNumber `json:"points"`
	HalfCredit   flexBool   `json:"halfcredit"`
}

type wireFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// idList accepts a string, a number, or an array of either.
type idList []string

func (l *idList) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out []string
	add := func(v any) error {
		s, err := scalarString(v)
		if err != nil {
			return err
		}
		if s != "" {
			out = append(out, s)
		}
		return nil
	}
	switch v := raw.(type) {
	case nil:
	case []any:
		for _, item := range v {
			if err := add(item); err != nil {
				return err
			}
		}
	default:
		if err := add(v); err != nil {
			return err
		}
	}
	*l = out
	return nil
}

// MarshalJSON always writes an array.
func (l idList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported id value %v", v)
	}
}

// flexNumber accepts a JSON number or a numeric string.  An empty string
// or null leaves it unset.
type flexNumber struct {
	Value float64
	Set   bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*n = flexNumber{}
	case float64:
		*n = flexNumber{Value: v, Set: true}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			*n = flexNumber{}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("points %q: %w", v, err)
		}
		*n = flexNumber{Value: f, Set: true}
	default:
		return fmt.Errorf("unsupported points value %v", v)
	}
	return nil
}

func (n flexNumber) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// flexBool treats true, non-zero numbers and the strings "true", "1",
// "yes", "on" (the checkbox value) as set.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*f = flexBool(v)
	case float64:
		*f = v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on", "y":
			*f = true
		default:
			*f = false
		}
	default:
		*f = false
	}
	return nil
}
