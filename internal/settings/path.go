package settings

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidPath = errors.New("invalid configuration path")

// Index values above this are rejected; arrays in device configurations
// are small.
const maxIndex = 1 << 12

var segmentPattern = regexp.MustCompile(`^([A-Za-z0-9_#.\-]*)((?:\[[0-9]+\])*)$`)
var indexPattern = regexp.MustCompile(`\[([0-9]+)\]`)

type token struct {
	field   string
	index   int
	isIndex bool
}

// Path addresses a value inside a configuration object, written like
// "devices[4]/name".
type Path struct {
	raw    string
	tokens []token
}

// ParsePath validates and tokenizes s
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	var tokens []token
	for _, segment := range strings.Split(s, "/") {
		m := segmentPattern.FindStringSubmatch(segment)
		if m == nil || (m[1] == "" && m[2] == "") {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		if m[1] != "" {
			tokens = append(tokens, token{field: m[1]})
		}
		for _, idx := range indexPattern.FindAllStringSubmatch(m[2], -1) {
			n, err := strconv.Atoi(idx[1])
			if err != nil || n > maxIndex {
				return Path{}, fmt.Errorf("%w: index out of range in %q", ErrInvalidPath, s)
			}
			tokens = append(tokens, token{index: n, isIndex: true})
		}
	}
	if tokens[0].isIndex {
		return Path{}, fmt.Errorf("%w: %q must start with a field name", ErrInvalidPath, s)
	}
	return Path{raw: s, tokens: tokens}, nil
}

// MustParsePath is like ParsePath but panics on error
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return p.raw
}

// Get returns the value at p
func (p Path) Get(root map[string]any) (any, bool) {
	var node any = root
	for _, t := range p.tokens {
		if t.isIndex {
			arr, ok := node.([]any)
			if !ok || t.index >= len(arr) {
				return nil, false
			}
			node = arr[t.index]
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = obj[t.field]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Set stores v at p, creating missing objects and arrays on the way
func (p Path) Set(root map[string]any, v any) error {
	if root == nil {
		return errors.New("configuration is nil")
	}
	if len(p.tokens) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	_, err := set(root, p.tokens, v)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", p.raw, err)
	}
	return nil
}

func set(node any, tokens []token, v any) (any, error) {
	if len(tokens) == 0 {
		return v, nil
	}
	t := tokens[0]

	if t.isIndex {
		var arr []any
		switch n := node.(type) {
		case nil:
		case []any:
			arr = n
		default:
			return nil, fmt.Errorf("[%d] indexes a %T", t.index, node)
		}
		for len(arr) <= t.index {
			arr = append(arr, nil)
		}
		child, err := set(arr[t.index], tokens[1:], v)
		if err != nil {
			return nil, err
		}
		arr[t.index] = child
		return arr, nil
	}

	var obj map[string]any
	switch n := node.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = n
	default:
		return nil, fmt.Errorf("%s is a field of a %T", t.field, node)
	}
	child, err := set(obj[t.field], tokens[1:], v)
	if err != nil {
		return nil, err
	}
	obj[t.field] = child
	return obj, nil
}
