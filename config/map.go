package config

import (
	"fmt"
	"strconv"
)

// Map implements directive-by-directive extraction of typed Go values from
// a Node's Children, the way framework/config.Map does for maddy.conf,
// scaled down to the handful of directive kinds mboxsync's settings need.
type Map struct {
	block    Node
	seen     map[string]bool
	required map[string]bool
}

// NewMap returns a Map over block's children.
func NewMap(block Node) *Map {
	return &Map{block: block, seen: map[string]bool{}, required: map[string]bool{}}
}

func (m *Map) find(name string) (Node, bool) {
	for _, c := range m.block.Children {
		if c.Name == name {
			return c, true
		}
	}
	return Node{}, false
}

// String extracts a single-argument directive into *store, or leaves
// *store at defaultVal if the directive is absent.
func (m *Map) String(name string, required bool, defaultVal string, store *string) error {
	m.required[name] = required
	node, ok := m.find(name)
	if !ok {
		if required {
			return NodeErr(m.block, "missing required directive: %s", name)
		}
		*store = defaultVal
		return nil
	}
	m.seen[name] = true
	if len(node.Args) != 1 {
		return NodeErr(node, "%s: expected exactly one argument", name)
	}
	*store = node.Args[0]
	return nil
}

// StringList extracts a directive's full argument list.
func (m *Map) StringList(name string, defaultVal []string, store *[]string) error {
	node, ok := m.find(name)
	if !ok {
		*store = defaultVal
		return nil
	}
	m.seen[name] = true
	*store = append([]string(nil), node.Args...)
	return nil
}

// Bool extracts a yes/no directive.
func (m *Map) Bool(name string, defaultVal bool, store *bool) error {
	node, ok := m.find(name)
	if !ok {
		*store = defaultVal
		return nil
	}
	m.seen[name] = true
	if len(node.Args) != 1 {
		return NodeErr(node, "%s: expected exactly one argument", name)
	}
	switch node.Args[0] {
	case "yes", "true":
		*store = true
	case "no", "false":
		*store = false
	default:
		return NodeErr(node, "%s: expected yes/no, got %q", name, node.Args[0])
	}
	return nil
}

// Int extracts an integer-valued directive.
func (m *Map) Int(name string, required bool, defaultVal int, store *int) error {
	node, ok := m.find(name)
	if !ok {
		if required {
			return NodeErr(m.block, "missing required directive: %s", name)
		}
		*store = defaultVal
		return nil
	}
	m.seen[name] = true
	if len(node.Args) != 1 {
		return NodeErr(node, "%s: expected exactly one argument", name)
	}
	v, err := strconv.Atoi(node.Args[0])
	if err != nil {
		return NodeErr(node, "%s: invalid integer: %s", name, node.Args[0])
	}
	*store = v
	return nil
}

// Submap extracts a named block as a child Map, so a partition table's
// repeated sub-blocks can be walked directive by directive.
func (m *Map) Submap(name string) (*Map, bool) {
	node, ok := m.find(name)
	if !ok {
		return nil, false
	}
	m.seen[name] = true
	return NewMap(node), true
}

// Unknown reports any child directive that was never read via one of the
// typed accessors above, for a caller that wants to reject unrecognized
// directives the way framework/config.Map does without AllowUnknown.
func (m *Map) Unknown() []string {
	var out []string
	for _, c := range m.block.Children {
		if !m.seen[c.Name] {
			out = append(out, fmt.Sprintf("%s:%d: unknown directive: %s", c.File, c.Line, c.Name))
		}
	}
	return out
}
