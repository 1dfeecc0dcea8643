package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ParamKind is the type of a protection parameter.
type ParamKind string

// Parameter kinds.
const (
	ParamEnum   ParamKind = "enum"
	ParamBool   ParamKind = "bool"
	ParamInt    ParamKind = "int"
	ParamString ParamKind = "string"
)

// ParamSpec declares one named, typed protection parameter.
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Domain      []string // enum literals
	Min, Max    int      // inclusive int range; ignored when both are zero
	Default     string
	Description string
}

// Coerce validates a raw string against the parameter and returns the typed
// value: string for enums and strings, bool, or int. Enum literals match
// case-insensitively and are returned in their declared spelling.
func (p ParamSpec) Coerce(raw string) (any, error) {
	switch p.Kind {
	case ParamEnum:
		for _, lit := range p.Domain {
			if strings.EqualFold(lit, raw) {
				return lit, nil
			}
		}
		return nil, fmt.Errorf("parameter %q: %q is not one of %s", p.Name, raw, strings.Join(p.Domain, ", "))
	case ParamBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("parameter %q: %q is not a boolean", p.Name, raw)
	case ParamInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %q is not an integer", p.Name, raw)
		}
		if (p.Min != 0 || p.Max != 0) && (n < p.Min || n > p.Max) {
			return nil, fmt.Errorf("parameter %q: %d is outside [%d, %d]", p.Name, n, p.Min, p.Max)
		}
		return n, nil
	case ParamString:
		return raw, nil
	}
	return nil, fmt.Errorf("parameter %q: unknown kind %q", p.Name, p.Kind)
}

// Schema is the ordered parameter list of a protection.
type Schema []ParamSpec

// Lookup finds a parameter by name, ignoring case.
func (s Schema) Lookup(name string) (ParamSpec, bool) {
	for _, p := range s {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Check verifies the schema itself is well formed: unique names, non-empty
// enum domains and defaults that coerce.
func (s Schema) Check() error {
	var errs []error
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		key := strings.ToLower(p.Name)
		if p.Name == "" {
			errs = append(errs, errors.New("parameter with empty name"))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("parameter %q declared twice", p.Name))
		}
		seen[key] = true
		if p.Kind == ParamEnum && len(p.Domain) == 0 {
			errs = append(errs, fmt.Errorf("parameter %q: enum without domain", p.Name))
			continue
		}
		if _, err := p.Coerce(p.Default); err != nil {
			errs = append(errs, fmt.Errorf("default: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Defaults returns the coerced default of every parameter.
func (s Schema) Defaults() map[string]any {
	out := make(map[string]any, len(s))
	for _, p := range s {
		if v, err := p.Coerce(p.Default); err == nil {
			out[p.Name] = v
		}
	}
	return out
}

// Resolve validates and coerces raw parameters. Keys of the result use the
// declared parameter names. All problems are reported together.
func (s Schema) Resolve(raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		spec, ok := s.Lookup(name)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown parameter %q", name))
			continue
		}
		v, err := spec.Coerce(raw[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[spec.Name] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
