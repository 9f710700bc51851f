package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/nci/lakeice/utils"
)

// Mode selects which seasonal transition is dated.
type Mode string

const (
	IceOn  Mode = "ice-on"
	IceOff Mode = "ice-off"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ice-on", "iceon", "on", "freeze":
		return IceOn, nil
	case "ice-off", "iceoff", "off", "thaw":
		return IceOff, nil
	}
	return "", fmt.Errorf("unknown mode %q, expected ice-on or ice-off", s)
}

// Window is the half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(DateIDFormat), w.End.Format(DateIDFormat))
}

// SeasonWindows are the windows of one analysis year. The analysis window
// runs from the freeze start of the previous year to the thaw end of the
// year and is split in two at the ice-off start.
type SeasonWindows struct {
	Year     int
	Analysis Window
	IceOn    Window
	IceOff   Window
}

func NewSeasonWindows(year int, season utils.Season) (SeasonWindows, error) {
	date := func(y int, md string) (time.Time, error) {
		m, d, err := utils.ParseMonthDay(md)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
	}

	start, err := date(year-1, season.FreezeStart)
	if err != nil {
		return SeasonWindows{}, err
	}
	split, err := date(year, season.IceOffStart)
	if err != nil {
		return SeasonWindows{}, err
	}
	end, err := date(year, season.ThawEnd)
	if err != nil {
		return SeasonWindows{}, err
	}
	if !start.Before(split) || !split.Before(end) {
		return SeasonWindows{}, fmt.Errorf("season boundaries out of order for %d: %s, %s, %s", year,
			start.Format(DateIDFormat), split.Format(DateIDFormat), end.Format(DateIDFormat))
	}

	return SeasonWindows{
		Year:     year,
		Analysis: Window{start, end},
		IceOn:    Window{start, split},
		IceOff:   Window{split, end},
	}, nil
}

// ForMode returns the sub-window in which the transition of mode is dated.
func (sw SeasonWindows) ForMode(mode Mode) (Window, error) {
	switch mode {
	case IceOn:
		return sw.IceOn, nil
	case IceOff:
		return sw.IceOff, nil
	}
	return Window{}, fmt.Errorf("unknown mode %q", mode)
}
