package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const defaultBaseDir = ".chatform"

// Paths holds resolved filesystem paths for chatform data.
type Paths struct {
	Base     string // ~/.chatform
	Config   string // ~/.chatform/config.yaml
	Agents   string // ~/.chatform/agents
	Data     string // ~/.chatform/data
	Database string // ~/.chatform/data/chatform.db
}

// ResolvePaths computes the standard paths. CHATFORM_HOME replaces the
// base directory and CHATFORM_CONFIG points at a config file elsewhere.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CHATFORM_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	p := Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		Agents:   filepath.Join(base, "agents"),
		Data:     filepath.Join(base, "data"),
		Database: filepath.Join(base, "data", "chatform.db"),
	}
	if cfg := os.Getenv("CHATFORM_CONFIG"); cfg != "" {
		p.Config = cfg
	}
	return p, nil
}

// EnsureDirs creates the base, agents and data directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Agents, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// PathSegment is one step of a config path: a map key, or a list index
// when Key is empty.
type PathSegment struct {
	Key   string
	Index int
}

// IsIndex reports whether the segment addresses a list element.
func (s PathSegment) IsIndex() bool { return s.Key == "" }

func (s PathSegment) String() string {
	if s.IsIndex() {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

var segmentRe = regexp.MustCompile(`^([A-Za-z0-9_-]+)((?:\[\d+\])*)$`)

// ParseConfigPath parses a path in the form validation issues are
// reported in, for example "hooks.sessionCompleted[0].command".
func ParseConfigPath(raw string) ([]PathSegment, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	var path []PathSegment
	for _, part := range strings.Split(raw, ".") {
		m := segmentRe.FindStringSubmatch(part)
		if m == nil {
			return nil, &ConfigError{Message: fmt.Sprintf("invalid config path segment %q", part)}
		}
		path = append(path, PathSegment{Key: m[1]})
		for _, idx := range strings.Split(strings.Trim(m[2], "[]"), "][") {
			if idx == "" {
				continue
			}
			n, err := strconv.Atoi(idx)
			if err != nil {
				return nil, &ConfigError{Message: fmt.Sprintf("invalid list index %q", idx)}
			}
			path = append(path, PathSegment{Index: n})
		}
	}
	return path, nil
}

// LastKey returns the innermost map key of path.
func LastKey(path []PathSegment) string {
	for i := len(path) - 1; i >= 0; i-- {
		if !path[i].IsIndex() {
			return path[i].Key
		}
	}
	return ""
}

// GetValueAtPath walks maps and lists along path.
func GetValueAtPath(root map[string]any, path []PathSegment) (any, bool) {
	var current any = root
	for _, seg := range path {
		switch node := current.(type) {
		case map[string]any:
			if seg.IsIndex() {
				return nil, false
			}
			v, ok := node[seg.Key]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			if !seg.IsIndex() || seg.Index >= len(node) {
				return nil, false
			}
			current = node[seg.Index]
		default:
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath stores value at path. Missing maps are created and
// non-map values on the way are replaced. A list index may address an
// existing element or the position just past the end.
func SetValueAtPath(root map[string]any, path []PathSegment, value any) error {
	if len(path) == 0 || path[0].IsIndex() {
		return &ConfigError{Message: "config path must start with a key"}
	}
	_, err := setAt(root, path, value)
	return err
}

func setAt(node any, path []PathSegment, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	seg, rest := path[0], path[1:]

	if seg.IsIndex() {
		list, ok := node.([]any)
		if !ok && node != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("%s: value is not a list", seg)}
		}
		if seg.Index > len(list) {
			return nil, &ConfigError{Message: fmt.Sprintf("%s: index out of range (list has %d items)", seg, len(list))}
		}
		if seg.Index == len(list) {
			list = append(list, nil)
		}
		child, err := setAt(list[seg.Index], rest, value)
		if err != nil {
			return nil, err
		}
		list[seg.Index] = child
		return list, nil
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	child, err := setAt(m[seg.Key], rest, value)
	if err != nil {
		return nil, err
	}
	m[seg.Key] = child
	return m, nil
}

// UnsetValueAtPath removes the map entry or list element at path and
// reports whether anything was removed.
func UnsetValueAtPath(root map[string]any, path []PathSegment) bool {
	if len(path) == 0 {
		return false
	}
	_, removed := unsetAt(root, path)
	return removed
}

func unsetAt(node any, path []PathSegment) (any, bool) {
	seg, rest := path[0], path[1:]
	switch n := node.(type) {
	case map[string]any:
		if seg.IsIndex() {
			return node, false
		}
		child, ok := n[seg.Key]
		if !ok {
			return node, false
		}
		if len(rest) == 0 {
			delete(n, seg.Key)
			return n, true
		}
		child, removed := unsetAt(child, rest)
		n[seg.Key] = child
		return n, removed
	case []any:
		if !seg.IsIndex() || seg.Index >= len(n) {
			return node, false
		}
		if len(rest) == 0 {
			return slices.Delete(n, seg.Index, seg.Index+1), true
		}
		child, removed := unsetAt(n[seg.Index], rest)
		n[seg.Index] = child
		return n, removed
	default:
		return node, false
	}
}
