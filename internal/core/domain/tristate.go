package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TriState is a boolean that may be unknown. The zero value is Unknown and
// encodes as JSON null.
type TriState int8

const (
	Unknown TriState = iota
	True
	False
)

func TriStateOf(v bool) TriState {
	if v {
		return True
	}
	return False
}

func (t TriState) Known() bool { return t == True || t == False }

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *TriState) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	switch string(raw) {
	case "true":
		*t = True
	case "false":
		*t = False
	case "null", "":
		*t = Unknown
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("tristate: unsupported value %s", raw)
		}
		switch s {
		case "true", "yes", "si", "sí":
			*t = True
		case "false", "no":
			*t = False
		case "", "unknown":
			*t = Unknown
		default:
			return fmt.Errorf("tristate: unsupported value %q", s)
		}
	}
	return nil
}
