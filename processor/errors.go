package processor

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingData is matched by every MissingDataError.
var ErrMissingData = errors.New("no imagery available")

// ErrSuperseded is returned by a pipeline run that was replaced by a newer
// selection before it completed.
var ErrSuperseded = errors.New("superseded by a newer selection")

// MissingDataError signals that the catalogue returned no images for a window.
type MissingDataError struct {
	Start, End time.Time
	What       string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("%s: %v for [%s, %s)", e.What, ErrMissingData, e.Start.Format(DateIDFormat), e.End.Format(DateIDFormat))
}

func (e *MissingDataError) Is(target error) bool {
	return target == ErrMissingData
}

// MisalignedGridError is returned when rasters on different grids are
// combined pixel by pixel.
type MisalignedGridError struct {
	Want, Got Grid
}

func (e *MisalignedGridError) Error() string {
	return fmt.Sprintf("misaligned grids: want %s %dx%d %v, got %s %dx%d %v",
		e.Want.CRS, e.Want.Width, e.Want.Height, e.Want.GeoTransform,
		e.Got.CRS, e.Got.Width, e.Got.Height, e.Got.GeoTransform)
}
