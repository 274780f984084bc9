// Package words decides which words on the face of the clock to light up for a given time, and
// which LEDs those words live on.
package words

import (
	"fmt"
	"strings"
)

// Word is one phrase segment printed on the face of the clock.  Words are declared in the order
// they are read, so iterating over a Frame in Word order yields a sensible sentence.
type Word uint8

const (
	ItIs Word = iota
	Quarter
	Half
	Twenty
	Ten
	Five
	Minutes
	Past
	To
	One
	Two
	Three
	Four
	HourFive
	Six
	Seven
	Eight
	Nine
	HourTen
	Eleven
	Twelve
	OClock

	NumWords = int(OClock) + 1
)

var names = [NumWords]string{
	ItIs:     "IT IS",
	Quarter:  "QUARTER",
	Half:     "HALF",
	Twenty:   "TWENTY",
	Ten:      "TEN",
	Five:     "FIVE",
	Minutes:  "MINUTES",
	Past:     "PAST",
	To:       "TO",
	One:      "ONE",
	Two:      "TWO",
	Three:    "THREE",
	Four:     "FOUR",
	HourFive: "FIVE",
	Six:      "SIX",
	Seven:    "SEVEN",
	Eight:    "EIGHT",
	Nine:     "NINE",
	HourTen:  "TEN",
	Eleven:   "ELEVEN",
	Twelve:   "TWELVE",
	OClock:   "O'CLOCK",
}

// hours maps a 12-hour clock value to its word.  Index 0 is unused.
var hours = [13]Word{1: One, 2: Two, 3: Three, 4: Four, 5: HourFive, 6: Six, 7: Seven, 8: Eight, 9: Nine, 10: HourTen, 11: Eleven, 12: Twelve}

// String returns the text printed on the face for w.
func (w Word) String() string {
	if int(w) >= NumWords {
		return fmt.Sprintf("Word(%d)", int(w))
	}
	return names[w]
}

// Frame is the set of words lit at once.
type Frame uint32

// FrameOf returns a frame containing exactly the provided words.
func FrameOf(ws ...Word) Frame {
	var f Frame
	for _, w := range ws {
		f = f.With(w)
	}
	return f
}

// With returns a copy of f that also contains w.
func (f Frame) With(w Word) Frame { return f | 1<<w }

// Has reports whether w is lit in f.
func (f Frame) Has(w Word) bool { return f&(1<<w) != 0 }

// Words returns the words in f in reading order.
func (f Frame) Words() []Word {
	var result []Word
	for w := Word(0); int(w) < NumWords; w++ {
		if f.Has(w) {
			result = append(result, w)
		}
	}
	return result
}

// String renders f as the sentence a person standing in front of the clock would read.
func (f Frame) String() string {
	ws := f.Words()
	parts := make([]string, 0, len(ws))
	for _, w := range ws {
		parts = append(parts, w.String())
	}
	return strings.Join(parts, " ")
}

// HourWord returns the single hour word in f, and false if there isn't exactly one.
func (f Frame) HourWord() (Word, bool) {
	var found Word
	n := 0
	for _, w := range hours[1:] {
		if f.Has(w) {
			found = w
			n++
		}
	}
	return found, n == 1
}
