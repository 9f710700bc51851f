package processor

import (
	"testing"

	"github.com/nci/lakeice/utils"
)

var defaultSeason = utils.Season{FreezeStart: "11-01", IceOffStart: "02-15", ThawEnd: "04-15"}

func TestSeasonWindows(t *testing.T) {
	sw, err := NewSeasonWindows(2020, defaultSeason)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name       string
		got        Window
		start, end string
	}{
		{"analysis", sw.Analysis, "2019-11-01", "2020-04-15"},
		{"ice-on", sw.IceOn, "2019-11-01", "2020-02-15"},
		{"ice-off", sw.IceOff, "2020-02-15", "2020-04-15"},
	}
	for _, tc := range tests {
		if s := tc.got.Start.Format(DateIDFormat); s != tc.start {
			t.Errorf("%s start %s, want %s", tc.name, s, tc.start)
		}
		if e := tc.got.End.Format(DateIDFormat); e != tc.end {
			t.Errorf("%s end %s, want %s", tc.name, e, tc.end)
		}
	}

	w, err := sw.ForMode(IceOff)
	if err != nil || w != sw.IceOff {
		t.Errorf("ForMode(ice-off) = %v, %v", w, err)
	}
	if _, err := sw.ForMode("melt"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestSeasonWindowsInvalid(t *testing.T) {
	bad := []utils.Season{
		{FreezeStart: "11-01", IceOffStart: "05-15", ThawEnd: "04-15"},
		{FreezeStart: "13-01", IceOffStart: "02-15", ThawEnd: "04-15"},
		{FreezeStart: "11-01", IceOffStart: "0215", ThawEnd: "04-15"},
	}
	for _, s := range bad {
		if _, err := NewSeasonWindows(2020, s); err == nil {
			t.Errorf("season %+v accepted", s)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"ice-on": IceOn, "ON": IceOn, " iceoff ": IceOff, "thaw": IceOff} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("current"); err == nil {
		t.Error("expected an error")
	}
}
