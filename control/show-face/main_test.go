package main

import (
	"strings"
	"testing"

	"github.com/jrockway/wordclock/control/words"
)

func TestParseTime(t *testing.T) {
	testData := []struct {
		in      string
		wantH   int
		wantM   int
		wantErr bool
	}{
		{in: "14:34", wantH: 14, wantM: 34},
		{in: "0:00", wantH: 0, wantM: 0},
		{in: "23:59", wantH: 23, wantM: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, test := range testData {
		h, m, err := parseTime(test.in)
		if test.wantErr {
			if err == nil {
				t.Errorf("parse %q: expected error", test.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parse %q: %v", test.in, err)
			continue
		}
		if h != test.wantH || m != test.wantM {
			t.Errorf("parse %q:\n  got: %02d:%02d\n want: %02d:%02d", test.in, h, m, test.wantH, test.wantM)
		}
	}
}

func TestRenderFace(t *testing.T) {
	b := words.Default.ToBitmap(words.FrameOf(words.ItIs, words.OClock))
	face := renderFace(words.Default, b)
	lines := strings.Split(face, "\n")
	if got, want := len(lines), 8; got != want {
		t.Fatalf("rows:\n  got: %v\n want: %v", got, want)
	}
	// Lit labels are upper case, and unlit ones lower case.
	if !strings.Contains(lines[0], "IT") {
		t.Errorf("first row does not contain a lit IT: %q", lines[0])
	}
	if !strings.Contains(lines[0], "ha") {
		t.Errorf("first row does not contain an unlit HALF: %q", lines[0])
	}
	if !strings.Contains(lines[7], "OC") {
		t.Errorf("last row does not contain a lit O'CLOCK: %q", lines[7])
	}
}

func TestRender(t *testing.T) {
	out := render(14, 34, 0)
	for _, want := range []string{
		"IT IS TWENTY FIVE TO THREE",
		"14:34 shown as 14:35",
		"brightness 10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}
