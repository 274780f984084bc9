// Command show-face prints what the clock face looks like at a given time, for checking the layout
// without the hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/charmbracelet/lipgloss"
	"github.com/jrockway/wordclock/control/light"
	"github.com/jrockway/wordclock/control/screen"
	"github.com/jrockway/wordclock/control/words"
)

var (
	at     = flag.String("time", "", "time to show, as HH:MM; empty for the current time")
	tz     = flag.String("tz", "Australia/Sydney", "time zone for the current time")
	sample = flag.Int("sample", light.MaxSample, "ambient light sample to compute brightness from")
)

var (
	litStyle = lipgloss.NewStyle().
			Width(4).
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#444444"))
	unlitStyle = lipgloss.NewStyle().
			Width(4).
			Foreground(lipgloss.Color("8"))
	phraseStyle = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(lipgloss.Color("11"))
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func parseTime(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%q is not a time of day", s)
	}
	return h, m, nil
}

// renderFace draws the grid of letters, with lit LEDs highlighted.
func renderFace(layout *words.Layout, b words.Bitmap) string {
	var rows []string
	for y := 0; y < layout.Size; y++ {
		var cells []string
		for x := 0; x < layout.Size; x++ {
			i := screen.IndexOf(x, y)
			label := layout.Label(i)
			if label == "" {
				label = "."
			}
			if b[i] {
				cells = append(cells, litStyle.Render(label))
			} else {
				cells = append(cells, unlitStyle.Render(strings.ToLower(label)))
			}
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func render(h, m, sample int) string {
	rounded := words.Round(h, m)
	frame := words.Select(rounded)
	b := words.Default.ToBitmap(frame)
	brightness := light.BrightnessFor(sample, light.DefaultSetting)
	return lipgloss.JoinVertical(lipgloss.Left,
		renderFace(words.Default, b),
		phraseStyle.Render(frame.String()),
		infoStyle.Render(fmt.Sprintf("%02d:%02d shown as %v, %d leds at brightness %d", h, m, rounded, b.Count(), brightness)),
	)
}

func main() {
	flag.Parse()
	var h, m int
	if *at == "" {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			log.Fatalf("load time zone: %v", err)
		}
		now := time.Now().In(loc)
		h, m = now.Hour(), now.Minute()
	} else {
		var err error
		h, m, err = parseTime(*at)
		if err != nil {
			log.Fatal(err)
		}
	}
	fmt.Println(render(h, m, *sample))
}
