package counters

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the counter data could not be obtained at all.
	ErrSourceUnavailable = errors.New("counter source unavailable")

	// ErrUnsupportedPlatform is returned when a source is constructed on a
	// platform family it cannot read.
	ErrUnsupportedPlatform = errors.New("counter source not supported on this platform")

	// ErrMalformedReading matches any *MalformedReadingError via errors.Is.
	ErrMalformedReading = errors.New("malformed counter reading")
)

// MalformedReadingError describes a row that could not be parsed.
type MalformedReadingError struct {
	Source string
	Line   int
	Text   string
	Reason string
}

func (e *MalformedReadingError) Error() string {
	return fmt.Sprintf("%s: malformed row at line %d (%s): %q", e.Source, e.Line, e.Reason, e.Text)
}

func (e *MalformedReadingError) Is(target error) bool {
	return target == ErrMalformedReading
}

func unavailable(source string, err error) error {
	return fmt.Errorf("%s: %w: %w", source, ErrSourceUnavailable, err)
}
