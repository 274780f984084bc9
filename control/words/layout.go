package words

import (
	"fmt"
	"strings"
)

// Layout describes where each word lives on a Size x Size grid of LEDs, by strand index.
type Layout struct {
	Size int
	LEDs [NumWords][]int
}

// Bitmap is the on/off state of each LED on the strand, indexed by strand position.
type Bitmap []bool

// Count returns the number of lit LEDs.
func (b Bitmap) Count() int {
	var n int
	for _, on := range b {
		if on {
			n++
		}
	}
	return n
}

// Default is the layout of my 8x8 face.  The strand starts in the bottom-left corner and snakes
// upwards, so the top row reads 63..56 from left to right:
//
//	63 62 61 60 59 58 57 56   IT IS | HALF | TEN
//	48 49 50 51 52 53 54 55   QUARTER | TWENTY
//	47 46 45 44 43 42 41 40   FIVE | MINUTES | TO
//	32 33 34 35 36 37 38 39   PAST | ONE | THREE
//	31 30 29 28 27 26 25 24   TWO | FOUR | FIVE
//	16 17 18 19 20 21 22 23   SIX | SEVEN | EIGHT
//	15 14 13 12 11 10  9  8   NINE | TEN | ELEVEN
//	 0  1  2  3  4  5  6  7   TWELVE | O'CLOCK
var Default = &Layout{
	Size: 8,
	LEDs: [NumWords][]int{
		ItIs:     {63, 62},
		Half:     {60, 59},
		Ten:      {57, 56},
		Quarter:  {48, 49, 50, 51},
		Twenty:   {52, 53, 54, 55},
		Five:     {47, 46},
		Minutes:  {45, 44, 43, 42},
		To:       {40},
		Past:     {32, 33},
		One:      {35, 36},
		Three:    {37, 38, 39},
		Two:      {31, 30},
		Four:     {28, 27},
		HourFive: {25, 24},
		Six:      {16, 17},
		Seven:    {18, 19, 20},
		Eight:    {21, 22, 23},
		Nine:     {15, 14},
		HourTen:  {13},
		Eleven:   {10, 9, 8},
		Twelve:   {0, 1, 2},
		OClock:   {4, 5, 6, 7},
	},
}

// NumLEDs returns the length of the strand.
func (l *Layout) NumLEDs() int { return l.Size * l.Size }

// Validate checks that every word has between 1 and 8 LEDs, that they are all on the strand, and
// that no two words share an LED.
func (l *Layout) Validate() error {
	if l.Size <= 0 {
		return fmt.Errorf("invalid grid size %d", l.Size)
	}
	owner := make(map[int]Word)
	for i, leds := range l.LEDs {
		w := Word(i)
		if n := len(leds); n < 1 || n > 8 {
			return fmt.Errorf("word %v (%d): has %d leds, want 1-8", w, i, n)
		}
		for _, led := range leds {
			if led < 0 || led >= l.NumLEDs() {
				return fmt.Errorf("word %v (%d): led %d is not in [0, %d]", w, i, led, l.NumLEDs()-1)
			}
			if other, ok := owner[led]; ok {
				return fmt.Errorf("word %v (%d): led %d is already used by %v (%d)", w, i, led, other, other)
			}
			owner[led] = w
		}
	}
	return nil
}

// ToBitmap returns a freshly-cleared bitmap with every LED of every word in f turned on.
func (l *Layout) ToBitmap(f Frame) Bitmap {
	b := make(Bitmap, l.NumLEDs())
	for _, w := range f.Words() {
		for _, led := range l.LEDs[w] {
			b[led] = true
		}
	}
	return b
}

// Owner returns the word that LED i belongs to, and false if it is a blank space on the face.
func (l *Layout) Owner(i int) (Word, bool) {
	for w, leds := range l.LEDs {
		for _, led := range leds {
			if led == i {
				return Word(w), true
			}
		}
	}
	return 0, false
}

// Label returns the letters printed over LED i.  Each word's letters are spread evenly over its
// LEDs; blank spaces get an empty label.
func (l *Layout) Label(i int) string {
	w, ok := l.Owner(i)
	if !ok {
		return ""
	}
	letters := strings.ReplaceAll(w.String(), " ", "")
	leds := l.LEDs[w]
	per := (len(letters) + len(leds) - 1) / len(leds)
	for j, led := range leds {
		if led != i {
			continue
		}
		start := j * per
		if start >= len(letters) {
			return ""
		}
		end := start + per
		if end > len(letters) {
			end = len(letters)
		}
		return letters[start:end]
	}
	return ""
}
