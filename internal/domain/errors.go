package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing input grid or model artifact.
	ErrNotFound = errors.New("not found")

	// ErrLookup marks a logical variable that no candidate name resolves.
	ErrLookup = errors.New("variable lookup failed")

	// ErrStructure marks input whose shape contradicts the expected layout:
	// too many time steps, mismatched array shapes or profile lengths.
	ErrStructure = errors.New("structural mismatch")

	// ErrUnknownObsType is an ErrStructure for observation types other than
	// surface and upper_air.
	ErrUnknownObsType = fmt.Errorf("%w: unknown observation type", ErrStructure)

	// ErrOutput marks an output stream that cannot be created or written.
	ErrOutput = errors.New("output write failed")

	// ErrEncode marks a single record that cannot be built into a message.
	// It never aborts a batch.
	ErrEncode = errors.New("encode failed")
)
