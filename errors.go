package seriesplot

import (
	"errors"
	"fmt"
)

var errIgnoreThisRow = errors.New("ignore this row")

// MalformedTableError is returned when a result table does not have the
// header/row shape the adapter needs. Row is -1 when the problem is not tied
// to a particular row.
type MalformedTableError struct {
	Table  string
	Row    int
	Reason string
}

func (e *MalformedTableError) Error() string {
	switch {
	case e.Table == "":
		return fmt.Sprintf("malformed result: %s", e.Reason)
	case e.Row < 0:
		return fmt.Sprintf("malformed table %q: %s", e.Table, e.Reason)
	default:
		return fmt.Sprintf("malformed table %q at row %d: %s", e.Table, e.Row, e.Reason)
	}
}

// MissingLibraryError is reported (logged, never returned) when a chart is
// asked to render without a charting library.
type MissingLibraryError struct {
	Mount string
}

func (e *MissingLibraryError) Error() string {
	return fmt.Sprintf("no charting library available to render %q", e.Mount)
}

// MountNotFoundError is returned when rendering targets a mount the page does
// not declare.
type MountNotFoundError struct {
	Mount string
}

func (e *MountNotFoundError) Error() string {
	return fmt.Sprintf("mount point %q does not exist", e.Mount)
}
