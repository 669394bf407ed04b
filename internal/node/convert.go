package node

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// ValueKey carries the primitive in the {".value": v, ".priority": p}
// export form.
const ValueKey = ".value"

// FromValue converts a Go value into a Node.
//
// Accepted inputs: nil, bool, every integer and float kind, json.Number,
// string, map[string]any, []any, and *Node (returned as is). Objects may use
// the ".value"/".priority" keys produced by ExportVal. Slices become
// children keyed by index.
func FromValue(v any) (*Node, error) {
	return fromValue(v, Root())
}

// MustFromValue is FromValue for literals in tests and examples. It panics
// on invalid input.
func MustFromValue(v any) *Node {
	n, err := FromValue(v)
	if err != nil {
		panic(err)
	}
	return n
}

// LeafFromValue converts a primitive (nil, bool, number or string) to a
// node, rejecting objects and arrays. Used for range bounds and priorities.
func LeafFromValue(v any) (*Node, error) {
	p, ok, err := primitive(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("expected null, boolean, number or string, got %T", v)
	}
	if p == nil {
		return empty, nil
	}
	return newLeaf(p, nil), nil
}

func fromValue(v any, at Path) (*Node, error) {
	if n, ok := v.(*Node); ok {
		if n == nil {
			return empty, nil
		}
		return n, nil
	}

	p, ok, err := primitive(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", at, err)
	}
	if ok {
		if p == nil {
			return empty, nil
		}
		return newLeaf(p, nil), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return fromObject(val, at)
	case []any:
		obj := make(map[string]any, len(val))
		for i, elem := range val {
			obj[strconv.Itoa(i)] = elem
		}
		return fromObject(obj, at)
	}

	// Typed maps and slices (map[string]int, []string, ...) via reflection.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%s: map keys must be strings, got %s", at, rv.Type().Key())
		}
		obj := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[iter.Key().String()] = iter.Value().Interface()
		}
		return fromObject(obj, at)
	case reflect.Slice, reflect.Array:
		obj := make(map[string]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			obj[strconv.Itoa(i)] = rv.Index(i).Interface()
		}
		return fromObject(obj, at)
	}
	return nil, fmt.Errorf("%s: unsupported type %T", at, v)
}

func fromObject(obj map[string]any, at Path) (*Node, error) {
	var priority *Node
	if raw, ok := obj[PriorityKey]; ok {
		p, err := LeafFromValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid priority: %w", at, err)
		}
		if err := ValidatePriority(p); err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		priority = p
	}

	if raw, ok := obj[ValueKey]; ok {
		for k := range obj {
			if k != ValueKey && k != PriorityKey {
				return nil, fmt.Errorf("%s: %q cannot be combined with child keys", at, ValueKey)
			}
		}
		n, err := fromValue(raw, at)
		if err != nil {
			return nil, err
		}
		return n.UpdatePriority(priority), nil
	}

	children := make([]NamedNode, 0, len(obj))
	for k, raw := range obj {
		if k == PriorityKey {
			continue
		}
		if err := ValidateKey(k); err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		child, err := fromValue(raw, at.Child(k))
		if err != nil {
			return nil, err
		}
		if child.IsEmpty() {
			continue
		}
		children = append(children, NamedNode{Name: k, Node: child})
	}
	if len(children) == 0 {
		return empty, nil
	}
	sort.Slice(children, func(i, j int) bool {
		return CompareNames(children[i].Name, children[j].Name) < 0
	})
	return &Node{children: children, priority: priorityOrNil(priority)}, nil
}

// primitive normalises scalar inputs. ok is false for composite values.
func primitive(v any) (any, bool, error) {
	switch val := v.(type) {
	case nil:
		return nil, true, nil
	case bool:
		return val, true, nil
	case string:
		return val, true, nil
	case float64:
		return checkFloat(val)
	case float32:
		return checkFloat(float64(val))
	case int:
		return float64(val), true, nil
	case int8:
		return float64(val), true, nil
	case int16:
		return float64(val), true, nil
	case int32:
		return float64(val), true, nil
	case int64:
		return float64(val), true, nil
	case uint:
		return float64(val), true, nil
	case uint8:
		return float64(val), true, nil
	case uint16:
		return float64(val), true, nil
	case uint32:
		return float64(val), true, nil
	case uint64:
		return float64(val), true, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, false, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return checkFloat(f)
	}
	return nil, false, nil
}

func checkFloat(f float64) (any, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false, fmt.Errorf("NaN and Infinity are not valid values")
	}
	return f, true, nil
}

// Val exports n as plain Go values: nil, bool, float64, string or
// map[string]any. Priorities are dropped.
func (n *Node) Val() any {
	return n.export(false)
}

// ExportVal is Val with priorities kept in the ".priority"/".value" form.
func (n *Node) ExportVal() any {
	return n.export(true)
}

func (n *Node) export(withPriority bool) any {
	if n.IsEmpty() {
		return nil
	}
	hasPriority := withPriority && n.priority != nil
	if n.IsLeaf() {
		if !hasPriority {
			return n.value
		}
		return map[string]any{ValueKey: n.value, PriorityKey: n.priority.value}
	}
	obj := make(map[string]any, len(n.children)+1)
	for _, c := range n.children {
		obj[c.Name] = c.Node.export(withPriority)
	}
	if hasPriority {
		obj[PriorityKey] = n.priority.value
	}
	return obj
}
