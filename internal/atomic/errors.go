package atomic

import (
	"errors"
	"fmt"
)

var (
	// ErrDataLoad matches every failure returned by Load.
	ErrDataLoad = errors.New("atomic: data load failed")

	ErrUnknownElement     = errors.New("atomic: unknown element")
	ErrMissingFile        = errors.New("atomic: missing data file")
	ErrMalformedRecord    = errors.New("atomic: malformed record")
	ErrStateCount         = errors.New("atomic: inconsistent number of charge states")
	ErrGridMismatch       = errors.New("atomic: temperature grid differs from first element")
	ErrPositiveEigenvalue = errors.New("atomic: positive eigenvalue in rate matrix")
)

// DataLoadError names the element whose table could not be loaded.
type DataLoadError struct {
	Element string
	Cause   error
}

func (e *DataLoadError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("atomic: load: %v", e.Cause)
	}
	return fmt.Sprintf("atomic: load %s: %v", e.Element, e.Cause)
}

func (e *DataLoadError) Unwrap() error { return e.Cause }

func (e *DataLoadError) Is(target error) bool { return target == ErrDataLoad }

func loadError(element string, cause error) error {
	return &DataLoadError{Element: element, Cause: cause}
}
