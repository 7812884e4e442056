package froeling

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

// Overview is the raw facility overview document as decoded from JSON.
type Overview map[string]any

// object is a JSON object with typed accessors. Every accessor reports the
// dotted path of the field it failed on.
type object struct {
	path   string
	values map[string]any
}

func newObject(path string, values map[string]any) object {
	return object{path: path, values: values}
}

func (o object) fieldPath(name string) string {
	if o.path == "" {
		return name
	}
	return o.path + "." + name
}

// has reports whether name is present and not null.
func (o object) has(name string) bool {
	v, ok := o.values[name]
	return ok && v != nil
}

func (o object) field(name string) (any, error) {
	v, ok := o.values[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing field %q", o.fieldPath(name))
	}
	return v, nil
}

func (o object) object(name string) (object, error) {
	v, err := o.field(name)
	if err != nil {
		return object{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return object{}, fmt.Errorf("field %q is %T, expected object", o.fieldPath(name), v)
	}
	return newObject(o.fieldPath(name), m), nil
}

func (o object) list(name string) ([]any, error) {
	v, err := o.field(name)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, expected list", o.fieldPath(name), v)
	}
	return l, nil
}

// text returns a string field. Numbers are accepted and formatted without a
// trailing fraction, since ids and component numbers arrive as either.
func (o object) text(name string) (string, error) {
	v, err := o.field(name)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("field %q is %T, expected string", o.fieldPath(name), v)
	}
}

func (o object) optionalText(name string) (*string, error) {
	if !o.has(name) {
		return nil, nil
	}
	s, err := o.text(name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (o object) state(name string) (model.State, error) {
	v, err := o.field(name)
	if err != nil {
		return model.State{}, err
	}
	switch t := v.(type) {
	case float64:
		return model.NumberState(t), nil
	case bool:
		return model.BoolState(t), nil
	case string:
		return model.TextState(t), nil
	default:
		return model.State{}, fmt.Errorf("field %q is %T, expected number, boolean or string", o.fieldPath(name), v)
	}
}

// statePath resolves a dotted path such as "state.displayValue".
func (o object) statePath(path string) (model.State, error) {
	parts := strings.Split(path, ".")
	cur := o
	for _, p := range parts[:len(parts)-1] {
		next, err := cur.object(p)
		if err != nil {
			return model.State{}, err
		}
		cur = next
	}
	return cur.state(parts[len(parts)-1])
}

func (o object) optionalTextPath(path string) (*string, error) {
	parts := strings.Split(path, ".")
	cur := o
	for _, p := range parts[:len(parts)-1] {
		next, err := cur.object(p)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur.optionalText(parts[len(parts)-1])
}
