package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingSpatialDims is returned by SpatialAttrGetter for nodes without spatial dimensions.
	ErrMissingSpatialDims = errors.New("node has no spatial_dims")

	// ErrAttrIndex is returned when a spatial axis or attribute index is out of range.
	ErrAttrIndex = errors.New("attribute index out of range")
)

// attr returns the value of a known field or of a passthrough attribute.
func (n *Node) attr(field string) (any, bool) {
	switch field {
	case "shape":
		if n.Shape == nil {
			return nil, false
		}
		return []int(n.Shape), true
	case "spatial_dims":
		if n.SpatialDims == nil {
			return nil, false
		}
		return n.SpatialDims, true
	}
	value, found := n.Attrs[field]
	return value, found
}

// AttrGetter returns the attribute `field` of the node, rendered as a comma separated string if it is a flat
// list (of numbers, strings or booleans). Other values are returned unchanged, and missing attributes as nil.
func AttrGetter(n *Node, field string) any {
	value, found := n.attr(field)
	if !found {
		return nil
	}
	if joined, ok := joinList(value); ok {
		return joined
	}
	return value
}

// SpatialAttrGetter returns post(value[SpatialDims[dim]]), where value is the per-axis attribute `field`.
func SpatialAttrGetter(n *Node, field string, dim int, post func(int64) any) (any, error) {
	if n.SpatialDims == nil {
		return nil, errors.Wrapf(ErrMissingSpatialDims, "node %q", n.ID)
	}
	if dim < 0 || dim >= len(n.SpatialDims) {
		return nil, errors.Wrapf(ErrAttrIndex, "spatial axis %d for node %q with spatial_dims %v", dim, n.ID, n.SpatialDims)
	}
	value, found := n.attr(field)
	if !found {
		return nil, errors.Errorf("node %q has no attribute %q", n.ID, field)
	}
	values, ok := toInt64s(value)
	if !ok {
		return nil, errors.Errorf("attribute %q of node %q is not a sequence of integers (%T)", field, n.ID, value)
	}
	idx := n.SpatialDims[dim]
	if idx < 0 || idx >= len(values) {
		return nil, errors.Wrapf(ErrAttrIndex, "index %d of attribute %q (length %d) for node %q", idx, field, len(values), n.ID)
	}
	if post == nil {
		return values[idx], nil
	}
	return post(values[idx]), nil
}

// joinList joins the elements of a flat list with ",". Nested lists are not joined.
func joinList(value any) (string, bool) {
	var parts []string
	switch v := value.(type) {
	case []int:
		parts = formatAll(v, strconv.Itoa)
	case []int32:
		parts = formatAll(v, func(x int32) string { return strconv.FormatInt(int64(x), 10) })
	case []int64:
		parts = formatAll(v, func(x int64) string { return strconv.FormatInt(x, 10) })
	case []float32:
		parts = formatAll(v, func(x float32) string { return strconv.FormatFloat(float64(x), 'g', -1, 32) })
	case []float64:
		parts = formatAll(v, func(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) })
	case []string:
		parts = v
	case []bool:
		parts = formatAll(v, strconv.FormatBool)
	case []any:
		// Decoded documents (YAML, JSON) give untyped lists.
		parts = make([]string, len(v))
		for ii, e := range v {
			switch e.(type) {
			case int, int32, int64, float32, float64, string, bool:
				parts[ii] = fmt.Sprint(e)
			default:
				return "", false
			}
		}
	default:
		return "", false
	}
	return strings.Join(parts, ","), true
}

func formatAll[T any](values []T, format func(T) string) []string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = format(v)
	}
	return parts
}

func toInt64s(value any) ([]int64, bool) {
	switch v := value.(type) {
	case []int64:
		return v, true
	case []int:
		out := make([]int64, len(v))
		for ii, x := range v {
			out[ii] = int64(x)
		}
		return out, true
	case []int32:
		out := make([]int64, len(v))
		for ii, x := range v {
			out[ii] = int64(x)
		}
		return out, true
	case []any:
		out := make([]int64, len(v))
		for ii, e := range v {
			switch x := e.(type) {
			case int:
				out[ii] = int64(x)
			case int64:
				out[ii] = x
			case int32:
				out[ii] = int64(x)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
