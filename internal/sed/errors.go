package sed

import "github.com/pkg/errors"

var (
	// ErrDuplicateSerial aborts resolution when two device paths report the
	// same serial number.
	ErrDuplicateSerial = errors.New("duplicate serial number")

	// ErrDescriptorMissing is returned when a query response has no
	// descriptor line for the queried device.
	ErrDescriptorMissing = errors.New("descriptor line not found")

	// ErrDescriptorMalformed is returned when the descriptor line is too short
	// to carry a type tag and serial number.
	ErrDescriptorMalformed = errors.New("malformed descriptor line")

	// ErrSinkReleased is returned when a diagnostic sink is used after release.
	ErrSinkReleased = errors.New("diagnostic sink already released")
)
