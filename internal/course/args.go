package course

import (
	"encoding/json"
	"fmt"
	"math"

	"coursestate/pkg/state"
)

// Dispatch arguments arrive as untyped values, often decoded from JSON, so id
// arguments accept every numeric shape the decoder may produce.

func int64From(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func int64Arg(args []any, i int) (int64, error) {
	if i >= len(args) || args[i] == nil {
		return 0, nil
	}
	n, ok := int64From(args[i])
	if !ok {
		return 0, fmt.Errorf("argument %d: expected a numeric id, got %T", i, args[i])
	}
	return n, nil
}

func idsArg(args []any, i int) ([]int64, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case []int64:
		return v, nil
	case []int:
		out := make([]int64, len(v))
		for j, n := range v {
			out[j] = int64(n)
		}
		return out, nil
	case []any:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			n, ok := int64From(item)
			if !ok {
				return nil, fmt.Errorf("argument %d: expected numeric ids, got %T", i, item)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		if n, ok := int64From(v); ok {
			return []int64{n}, nil
		}
		return nil, fmt.Errorf("argument %d: expected ids, got %T", i, args[i])
	}
}

func targetArg(args []any, i int) (Target, error) {
	if i < len(args) {
		if t, ok := args[i].(Target); ok {
			return t, nil
		}
	}
	sectionID, err := int64Arg(args, i)
	if err != nil {
		return Target{}, err
	}
	cmID, err := int64Arg(args, i+1)
	if err != nil {
		return Target{}, err
	}
	return Target{SectionID: sectionID, CmID: cmID}, nil
}

func boolArg(args []any, i int) (bool, error) {
	if i >= len(args) {
		return false, fmt.Errorf("missing argument %d", i)
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("argument %d: expected bool, got %T", i, args[i])
	}
	return b, nil
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, args[i])
	}
	return s, nil
}

func bytesArg(args []any, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	b, ok := args[i].([]byte)
	if !ok {
		return nil, fmt.Errorf("argument %d: expected file contents, got %T", i, args[i])
	}
	return b, nil
}

// courseIDOf reads the numeric course id from the scalar course entity.
func courseIDOf(m *state.StateManager) (int64, error) {
	courseEntity, ok := m.State().Entity("course")
	if !ok {
		return 0, state.ErrUnknownKind{Kind: "course"}
	}
	raw, ok := courseEntity.Get("id")
	if !ok {
		return 0, state.ErrMissingID{Kind: "course"}
	}
	id, ok := int64From(raw)
	if !ok {
		return 0, fmt.Errorf("course id %v is not numeric", raw)
	}
	return id, nil
}
