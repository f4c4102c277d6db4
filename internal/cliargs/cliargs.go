// Package cliargs parses the command line syntax of cut requests.
//
// Inputs are a comma separated list of port designators, each optionally followed by a shape:
//
//	conv_1:0[1,3,224,224],0:relu_1
//
// A bare shape ("[1,3,224,224]") applies to the current inputs of the graph. Freeze requests are comma separated
// "name->value" pairs, where the value is a boolean, a number or a bracketed list of numbers:
//
//	is_training->false,keep_prob->1.0,scale->[1 1 2]
package cliargs

import (
	"strconv"
	"strings"

	"github.com/gomlx/graphcut/cut"
	"github.com/gomlx/graphcut/graph"
	"github.com/pkg/errors"
)

// ParseShape parses a shape given as "[1,3,224,224]", "(1 3 224 224)" or "1,3,224,224". Dynamic axes are given
// as "?" or "-1". "[]" is a scalar.
func ParseShape(s string) (graph.Shape, error) {
	body := strings.TrimSpace(s)
	if len(body) >= 2 && (body[0] == '[' && body[len(body)-1] == ']' || body[0] == '(' && body[len(body)-1] == ')') {
		body = body[1 : len(body)-1]
	}
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	shape := make(graph.Shape, 0, len(fields))
	for _, field := range fields {
		if field == "?" {
			shape = append(shape, -1)
			continue
		}
		dim, err := strconv.Atoi(field)
		if err != nil || dim < -1 {
			return nil, errors.Errorf("invalid dimension %q in shape %q", field, s)
		}
		shape = append(shape, dim)
	}
	return shape, nil
}

// ParseInputs parses the input request of the command line. It returns nil for an empty string, cut.ShapeOnly
// for a bare shape, cut.NameList if no input carries a shape, and cut.NameShapes otherwise.
func ParseInputs(s string) (cut.UserInputs, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if s[0] == '[' || s[0] == '(' {
		shape, err := ParseShape(s)
		if err != nil {
			return nil, err
		}
		return cut.ShapeOnly{Shape: shape}, nil
	}

	entries, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	var (
		names    cut.NameList
		shapes   cut.NameShapes
		hasShape bool
	)
	for _, entry := range entries {
		name, shape := entry, graph.Shape(nil)
		if idx := strings.IndexAny(entry, "[("); idx >= 0 {
			name = strings.TrimSpace(entry[:idx])
			shape, err = ParseShape(entry[idx:])
			if err != nil {
				return nil, errors.WithMessagef(err, "while parsing input %q", entry)
			}
			hasShape = true
		}
		if name == "" {
			return nil, errors.Errorf("input %q has no node name", entry)
		}
		names = append(names, name)
		shapes = append(shapes, cut.NameShape{Name: name, Shape: shape})
	}
	if hasShape {
		return shapes, nil
	}
	return names, nil
}

// ParseOutputs parses a comma separated list of port designators. It returns nil for an empty string.
func ParseOutputs(s string) cut.NameList {
	var names cut.NameList
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ParseFreeze parses "name->value" pairs. It returns nil for an empty string.
func ParseFreeze(s string) (cut.FreezeValues, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	entries, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	freeze := make(cut.FreezeValues, len(entries))
	for _, entry := range entries {
		name, text, found := strings.Cut(entry, "->")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, errors.Errorf("invalid freeze request %q, use \"name->value\"", entry)
		}
		value, err := ParseValue(text)
		if err != nil {
			return nil, errors.WithMessagef(err, "while parsing the value frozen for %q", name)
		}
		freeze[name] = value
	}
	return freeze, nil
}

// ParseValue parses a frozen value: a boolean, a number, or a bracketed list of numbers.
// Numbers are returned as float64, lists as []float64.
func ParseValue(text string) (any, error) {
	text = strings.TrimSpace(text)
	switch strings.ToLower(text) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if strings.HasPrefix(text, "[") {
		if !strings.HasSuffix(text, "]") {
			return nil, errors.Errorf("unterminated list %q", text)
		}
		fields := strings.FieldsFunc(text[1:len(text)-1], func(r rune) bool { return r == ',' || r == ' ' })
		values := make([]float64, len(fields))
		for ii, field := range fields {
			x, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Errorf("invalid number %q in %q", field, text)
			}
			values[ii] = x
		}
		return values, nil
	}
	x, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errors.Errorf("invalid value %q, expected true, false, a number or a list of numbers", text)
	}
	return x, nil
}

// splitTopLevel splits s on the commas not enclosed in brackets or parenthesis.
func splitTopLevel(s string) ([]string, error) {
	var (
		entries []string
		depth   int
		start   int
	)
	for ii, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth < 0 {
				return nil, errors.Errorf("unbalanced %q at position %d of %q", r, ii, s)
			}
		case ',':
			if depth == 0 {
				entries = append(entries, strings.TrimSpace(s[start:ii]))
				start = ii + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.Errorf("unbalanced brackets in %q", s)
	}
	entries = append(entries, strings.TrimSpace(s[start:]))
	return entries, nil
}
