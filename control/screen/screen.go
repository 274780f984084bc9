// Package screen draws bitmaps of lit words to the LED matrix, and retains them for debugging the
// rest of the program without the display attached.
package screen

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jrockway/wordclock/control/words"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	rows               = 8
	cols               = 8
	previewScale       = 40 // Size of one pixel in the rendered image.
	previewPixelBorder = 6  // Border around right and bottom of pixel, to simulate pixel spacing.

	// DefaultPowerLimit is what a 1A USB supply can deliver, less the microcontroller.
	DefaultPowerLimit = 4 // W
)

// Driver sends colors to a strand of LEDs.  pixels is in strand order.
type Driver interface {
	Write(pixels []color.NRGBA) error
	Halt() error
}

// Screen represents the 8x8 word clock face.  The strand starts in the bottom-left corner and
// snakes upwards, so the pixel ordering looks like this:
//
//	63 62 61 60 59 58 57 56
//	48 49 50 51 52 53 54 55
//	.. .. .. .. .. .. .. ..
//	15 14 13 12 11 10  9  8
//	 0  1  2  3  4  5  6  7
//
// At 60mA per fully-lit LED, a frame with every word lit would draw more than the USB supply can
// provide.  So we "current limit" the display.
type Screen struct {
	driver     Driver
	layout     *words.Layout
	powerLimit float64

	imageMu sync.Mutex
	face    *image.NRGBA   // must hold imageMu to read or write; one pixel per LED.
	image   *image.NRGBA64 // must hold imageMu to read or write; the labelled preview.
}

// NewScreen returns an initialized Screen object.  A nil driver only updates the preview.
func NewScreen(d Driver, layout *words.Layout, powerLimit float64) *Screen {
	if powerLimit <= 0 {
		powerLimit = DefaultPowerLimit
	}
	return &Screen{
		driver:     d,
		layout:     layout,
		powerLimit: powerLimit,
		face:       image.NewNRGBA(image.Rect(0, 0, cols, rows)),
		image:      image.NewNRGBA64(image.Rect(0, 0, cols*previewScale, rows*previewScale)),
	}
}

// IndexOf maps an (x,y) coordinate, with (0,0) at the top left, to the strand index.
func IndexOf(x, y int) int {
	row := rows - 1 - y
	if row%2 == 0 {
		return row*cols + x
	}
	return row*cols + cols - 1 - x
}

// powerFor returns the number of watts that displaying color c on one pixel will use.
//
// For the convenience of calling code, we neglect to include the full-off current of about 1mA per
// pixel.
func powerFor(c color.NRGBA) float64 {
	// The datasheet says we'll use a maximum of 60mA per pixel, so we assume that displaying
	// the brighest red + blue + green is what causes that to happen.
	return .02 * 5 * (float64(c.R)/0xff + float64(c.G)/0xff + float64(c.B)/0xff)
}

// toStrand converts a bitmap to the colors to send to the strand.  Lit LEDs are white at the
// requested brightness.
//
// We use this opportunity to globally reduce the brightness of the display to stay within a pre-set
// power budget.
func toStrand(b words.Bitmap, brightness uint8, powerLimit float64) []color.NRGBA {
	result := make([]color.NRGBA, len(b))
	white := color.NRGBA{R: brightness, G: brightness, B: brightness, A: 0xff}

	// Calculate how much power displaying this image will use.
	var power float64
	for _, on := range b {
		if on {
			power += powerFor(white)
		}
	}

	// Then scale every pixel down by a constant factor (powerLimit/power) to ensure that the
	// display stays within its power envelope.
	if power > powerLimit {
		scale := powerLimit / power
		v := uint8(scale * float64(brightness))
		white = color.NRGBA{R: v, G: v, B: v, A: 0xff}
	}
	for i, on := range b {
		if on {
			result[i] = white
		} else {
			result[i] = color.NRGBA{A: 0xff}
		}
	}
	return result
}

// Show displays the bitmap at the given brightness.
func (s *Screen) Show(b words.Bitmap, brightness uint8) error {
	pixels := toStrand(b, brightness, s.powerLimit)
	s.updateCurrentImage(pixels)
	if s.driver == nil {
		return nil
	}
	if err := s.driver.Write(pixels); err != nil {
		return fmt.Errorf("write to led strand: %w", err)
	}
	return nil
}

// Blank blanks the screen.
func (s *Screen) Blank() error {
	if err := s.Show(make(words.Bitmap, rows*cols), 0); err != nil {
		return fmt.Errorf("blank display: %w", err)
	}
	return nil
}

// SelfTest lights each LED in turn so that wiring mistakes are obvious, then blanks the screen.
func (s *Screen) SelfTest(ctx context.Context, brightness uint8, delay time.Duration) error {
	for i := 0; i < rows*cols; i++ {
		b := make(words.Bitmap, rows*cols)
		b[i] = true
		if err := s.Show(b, brightness); err != nil {
			return fmt.Errorf("test led %d: %w", i, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("test led %d: %w", i, ctx.Err())
		}
	}
	return s.Blank()
}

// Halt turns off the LEDs and releases the driver.
func (s *Screen) Halt() error {
	if err := s.Blank(); err != nil {
		log.Printf("halt: %v", err)
	}
	if s.driver == nil {
		return nil
	}
	return s.driver.Halt()
}

// Face returns a copy of what the display is currently showing, one pixel per LED.
func (s *Screen) Face() *image.NRGBA {
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	img := image.NewNRGBA(s.face.Bounds())
	copy(img.Pix, s.face.Pix)
	return img
}

// ServeHTTP serves the current preview as a PNG.
func (s *Screen) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	if err := png.Encode(w, s.image); err != nil {
		log.Printf("encoding image: %v", err)
	}
}

var (
	unlitCell  = color.NRGBA64{R: 0x1800, G: 0x1800, B: 0x1800, A: 0xffff}
	unlitLabel = color.NRGBA64{R: 0x5000, G: 0x5000, B: 0x5000, A: 0xffff}
	litLabel   = color.NRGBA64{A: 0xffff}
)

// updateCurrentImage updates the image data that will be returned via the web interface.
func (s *Screen) updateCurrentImage(pixels []color.NRGBA) {
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	draw.Draw(s.image, s.image.Bounds(), image.Black, image.Point{}, draw.Src)
	face := basicfont.Face7x13
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			i := IndexOf(x, y)
			c := pixels[i]
			s.face.SetNRGBA(x, y, c)

			cell := image.Rect(x*previewScale, y*previewScale, (x+1)*previewScale-previewPixelBorder, (y+1)*previewScale-previewPixelBorder)
			fill, ink := color.Color(unlitCell), color.Color(unlitLabel)
			if c.R > 0 || c.G > 0 || c.B > 0 {
				// Show lit LEDs at least dimly, even at very low brightness.
				v := c.R
				if v < 0x40 {
					v = 0x40
				}
				fill, ink = color.NRGBA{R: v, G: v, B: v, A: 0xff}, litLabel
			}
			draw.Draw(s.image, cell, image.NewUniform(fill), image.Point{}, draw.Src)

			label := s.layout.Label(i)
			if label == "" {
				continue
			}
			width := font.MeasureString(face, label).Ceil()
			(&font.Drawer{
				Dst:  s.image,
				Src:  image.NewUniform(ink),
				Face: face,
				Dot:  fixed.P(cell.Min.X+(cell.Dx()-width)/2, cell.Min.Y+(cell.Dy()+face.Ascent-face.Descent)/2),
			}).DrawString(label)
		}
	}
}
