package ops

import (
	"fmt"
)

// Params holds named operation parameters. Values are plain Go types:
// string, int, float64, bool, []int, []string, []byte.
type Params map[string]any

// FieldType enumerates the parameter value types a schema can declare.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
	FieldIntList
	FieldBytes
)

// Field declares one schema entry. A nil Default on a non-required field
// means the zero value.
type Field struct {
	Name     string
	Type     FieldType
	Default  any
	Required bool
}

// Schema declares an operation's parameters.
type Schema struct {
	Fields []Field
}

// Resolve merges p over the schema defaults and type-checks everything.
// Unknown keys fail: a typoed parameter silently ignored is worse than
// an error.
func (s Schema) Resolve(p Params) (Params, error) {
	known := make(map[string]Field, len(s.Fields))
	out := make(Params, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = f
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	for key, val := range p {
		f, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrBadParam, key)
		}
		coerced, err := coerce(f, val)
		if err != nil {
			return nil, err
		}
		out[key] = coerced
	}
	for _, f := range s.Fields {
		if f.Required {
			if _, ok := out[f.Name]; !ok {
				return nil, fmt.Errorf("%w: %q is required", ErrBadParam, f.Name)
			}
		}
	}
	return out, nil
}

func coerce(f Field, val any) (any, error) {
	switch f.Type {
	case FieldString:
		if v, ok := val.(string); ok {
			return v, nil
		}
	case FieldInt:
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		}
	case FieldFloat:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case FieldBool:
		if v, ok := val.(bool); ok {
			return v, nil
		}
	case FieldIntList:
		switch v := val.(type) {
		case []int:
			return v, nil
		case []any:
			out := make([]int, 0, len(v))
			for _, item := range v {
				n, ok := item.(int)
				if !ok {
					return nil, fmt.Errorf("%w: %q wants integers", ErrBadParam, f.Name)
				}
				out = append(out, n)
			}
			return out, nil
		}
	case FieldBytes:
		if v, ok := val.([]byte); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %q has wrong type %T", ErrBadParam, f.Name, val)
}

func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p Params) Int(key string) int {
	v, _ := p[key].(int)
	return v
}

func (p Params) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p Params) Ints(key string) []int {
	v, _ := p[key].([]int)
	return v
}

func (p Params) Bytes(key string) []byte {
	v, _ := p[key].([]byte)
	return v
}
