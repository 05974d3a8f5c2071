package types

import (
	"errors"
	"fmt"
	"strings"
)

// parseFieldDescriptor parses one field type at the head of desc, returning
// the type and the unconsumed remainder.
func parseFieldDescriptor(desc string) (Type, string, error) {
	if desc == "" {
		return Top, "", errors.New("empty descriptor")
	}

	switch desc[0] {
	case 'B':
		return Byte, desc[1:], nil
	case 'S':
		return Short, desc[1:], nil
	case 'C':
		return Char, desc[1:], nil
	case 'Z':
		return Boolean, desc[1:], nil
	case 'I':
		return Int, desc[1:], nil
	case 'F':
		return Float, desc[1:], nil
	case 'J':
		return Long, desc[1:], nil
	case 'D':
		return Double, desc[1:], nil
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 0 {
			return Top, "", fmt.Errorf("unterminated class in descriptor %q", desc)
		}
		return Object(desc[1:end]), desc[end+1:], nil
	case '[':
		dim := 0
		for dim < len(desc) && desc[dim] == '[' {
			dim++
		}
		elem, rest, err := parseFieldDescriptor(desc[dim:])
		if err != nil {
			return Top, "", err
		}
		return Array(dim, elem), rest, nil
	default:
		return Top, "", fmt.Errorf("invalid descriptor character %q", desc[0])
	}
}

// ParseFieldDescriptor parses a complete field descriptor.
func ParseFieldDescriptor(desc string) (Type, error) {
	t, rest, err := parseFieldDescriptor(desc)
	if err != nil {
		return Top, err
	}
	if rest != "" {
		return Top, fmt.Errorf("trailing characters %q in descriptor", rest)
	}
	return t, nil
}

// ParseMethodDescriptor parses a method descriptor into its parameter types
// and return type. void reports false for hasReturn.
func ParseMethodDescriptor(desc string) (params []Type, ret Type, hasReturn bool, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, Top, false, fmt.Errorf("method descriptor %q does not start with '('", desc)
	}
	rest := desc[1:]

	for !strings.HasPrefix(rest, ")") {
		if rest == "" {
			return nil, Top, false, fmt.Errorf("unterminated parameter list in %q", desc)
		}
		var param Type
		param, rest, err = parseFieldDescriptor(rest)
		if err != nil {
			return nil, Top, false, err
		}
		params = append(params, param)
	}
	rest = rest[1:]

	if rest == "V" {
		return params, Top, false, nil
	}
	ret, rest, err = parseFieldDescriptor(rest)
	if err != nil {
		return nil, Top, false, err
	}
	if rest != "" {
		return nil, Top, false, fmt.Errorf("trailing characters %q in descriptor", rest)
	}
	return params, ret, true, nil
}
