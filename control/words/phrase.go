package words

import "fmt"

// Time is a wall-clock time quantized to five minutes.  Minute is always a multiple of 5.
type Time struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t Time) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Round rounds a 24-hour time to the nearest five minutes.  Minutes 0, 1 and 2 past a multiple of 5
// round down, 3 and 4 round up, so 23:58 becomes 00:00 the next day.
func Round(hour, minute int) Time {
	tick := ((minute + 2) / 5) * 5
	if tick == 60 {
		tick = 0
		hour = (hour + 1) % 24
	}
	return Time{Hour: hour, Minute: tick}
}

// minuteWords is indexed by the distance from the hour divided by 5.
var minuteWords = [7]Frame{
	1: FrameOf(Five),
	2: FrameOf(Ten),
	3: FrameOf(Quarter),
	4: FrameOf(Twenty),
	5: FrameOf(Twenty, Five),
	6: FrameOf(Half),
}

// Select returns the words to light for t.  After half past, the clock counts down to the next
// hour ("TWENTY TO THREE" at 2:40); that advance only affects the words chosen, not t.
//
// t must come from Round; anything else is a bug in the caller and panics.
func Select(t Time) Frame {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 55 || t.Minute%5 != 0 {
		panic(fmt.Sprintf("words.Select: time %d:%d is not a rounded time", t.Hour, t.Minute))
	}

	f := FrameOf(ItIs)

	h12 := t.Hour % 12
	if h12 == 0 {
		h12 = 12
	}
	if t.Minute > 30 {
		h12 = (h12 % 12) + 1
	}

	var offset int
	switch {
	case t.Minute == 0:
		f = f.With(OClock)
	case t.Minute <= 30:
		f = f.With(Past)
		offset = t.Minute
	default:
		f = f.With(To)
		offset = 60 - t.Minute
	}
	f |= minuteWords[offset/5]

	return f.With(hours[h12])
}

// ShouldRender reports whether the display needs to be redrawn to show next, given that it last
// showed prev.  A nil prev means nothing has been drawn yet.
func ShouldRender(prev *Time, next Time) bool {
	return prev == nil || *prev != next
}
