package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Schema describes every valid dotted leaf path in the settings tree. It
// is built once by reflection over the TradingSettings JSON tags, so the
// struct definition stays the single source of truth. Unknown paths are
// rejected with a typed error instead of silently growing new branches.
type Schema struct {
	leaves   map[string]leaf
	sections map[string]int // Top-level section tag -> field index
	paths    []string       // All leaf paths, sorted
}

type leaf struct {
	kind  reflect.Kind
	index []int // Field index chain into TradingSettings
}

// NewSchema builds the schema from the TradingSettings type
func NewSchema() *Schema {
	s := &Schema{
		leaves:   make(map[string]leaf),
		sections: make(map[string]int),
	}

	root := reflect.TypeOf(TradingSettings{})
	for i := 0; i < root.NumField(); i++ {
		tag := jsonTag(root.Field(i))
		if tag == "" {
			continue
		}
		s.sections[tag] = i
	}
	s.collect(root, "", nil)

	s.paths = make([]string, 0, len(s.leaves))
	for path := range s.leaves {
		s.paths = append(s.paths, path)
	}
	sort.Strings(s.paths)

	return s
}

func (s *Schema) collect(t reflect.Type, prefix string, index []int) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := jsonTag(field)
		if tag == "" {
			continue
		}

		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}

		chain := make([]int, len(index)+1)
		copy(chain, index)
		chain[len(index)] = i

		if field.Type.Kind() == reflect.Struct {
			s.collect(field.Type, path, chain)
			continue
		}

		s.leaves[path] = leaf{kind: field.Type.Kind(), index: chain}
	}
}

func jsonTag(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}

// Paths returns every valid leaf path in sorted order
func (s *Schema) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Valid reports whether path resolves to a leaf
func (s *Schema) Valid(path string) bool {
	_, ok := s.leaves[path]
	return ok
}

// Normalize checks that value is assignable to the leaf at path and
// converts it to the leaf's exact Go type. JSON decoding hands numbers
// over as float64, so integral floats are accepted for integer leaves.
func (s *Schema) Normalize(path string, value interface{}) (interface{}, error) {
	l, ok := s.leaves[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}

	switch l.kind {
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case reflect.String:
		if str, ok := value.(string); ok {
			return str, nil
		}
	case reflect.Int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
		}
	case reflect.Float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	}

	return nil, fmt.Errorf("%w: %q expects %s, got %T", ErrInvalidValue, path, l.kind, value)
}

// setLeaf writes a normalized value into the tree. Callers must have run
// the value through Normalize first.
func (s *Schema) setLeaf(tree *TradingSettings, path string, value interface{}) error {
	l, ok := s.leaves[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}

	field := reflect.ValueOf(tree).Elem().FieldByIndex(l.index)
	rv := reflect.ValueOf(value)
	if !rv.Type().AssignableTo(field.Type()) {
		return fmt.Errorf("%w: %q expects %s, got %T", ErrInvalidValue, path, l.kind, value)
	}
	field.Set(rv)
	return nil
}

// leafValue reads the value at path from the tree
func (s *Schema) leafValue(tree TradingSettings, path string) (interface{}, error) {
	l, ok := s.leaves[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	return reflect.ValueOf(tree).FieldByIndex(l.index).Interface(), nil
}

// sectionValue reads one top-level section by field index
func sectionValue(tree TradingSettings, idx int) interface{} {
	return reflect.ValueOf(tree).Field(idx).Interface()
}

// applySection replaces one top-level section of dst with the preset
// overlay in raw. The overlay is unmarshalled over the default section
// value, so fields the overlay omits land on their defaults and every
// leaf stays defined.
func (s *Schema) applySection(dst *TradingSettings, section string, raw []byte) error {
	idx, ok := s.sections[section]
	if !ok {
		return fmt.Errorf("%w: section %q", ErrUnknownPath, section)
	}

	defaults := DefaultSettings()
	target := reflect.ValueOf(&defaults).Elem().Field(idx)
	if err := json.Unmarshal(raw, target.Addr().Interface()); err != nil {
		return fmt.Errorf("%w: section %q: %v", ErrInvalidValue, section, err)
	}

	reflect.ValueOf(dst).Elem().Field(idx).Set(target)
	return nil
}
