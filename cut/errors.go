package cut

import (
	"github.com/pkg/errors"
)

// Error kinds returned by this package. Errors carry the offending name, port or index in their message and can
// be tested with errors.Is.
var (
	ErrMalformedPortDesignator       = errors.New("malformed port designator")
	ErrUnknownNodeName               = errors.New("unknown node name")
	ErrAmbiguousInputSpecification   = errors.New("ambiguous input specification")
	ErrOutputPortOutOfRange          = errors.New("output port out of range")
	ErrInputPortOutOfRange           = errors.New("input port out of range")
	ErrUnspecifiedOutputPort         = errors.New("unspecified port")
	ErrConflictingInputSpecification = errors.New("conflicting input specification")
	ErrUndefinedShape                = errors.New("undefined shape")
	ErrTopologyMismatch              = errors.New("graph topology mismatch")
	ErrInvalidFreeze                 = errors.New("invalid freeze request")
)
