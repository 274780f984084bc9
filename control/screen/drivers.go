package screen

import (
	"fmt"
	"image/color"

	"github.com/fulr/spidev"
	"github.com/goiot/devices/dotstar"
	"golang.org/x/exp/io/spi"
	periphspi "periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/nrzled"
)

// NRZ drives a strand of WS2812B ("NeoPixel") LEDs from the SPI MOSI pin.
type NRZ struct {
	leds *nrzled.Dev
	buf  []byte
}

// NewNRZ opens a strand of n WS2812B LEDs on the SPI port p.
func NewNRZ(p periphspi.Port, n int) (*NRZ, error) {
	opts := nrzled.DefaultOpts
	opts.NumPixels = n
	opts.Channels = 3
	leds, err := nrzled.NewSPI(p, &opts)
	if err != nil {
		return nil, fmt.Errorf("init nrzled: %w", err)
	}
	return &NRZ{leds: leds, buf: make([]byte, 3*n)}, nil
}

// Write implements Driver.
func (d *NRZ) Write(pixels []color.NRGBA) error {
	for i, p := range pixels {
		d.buf[3*i], d.buf[3*i+1], d.buf[3*i+2] = p.R, p.G, p.B
	}
	if _, err := d.leds.Write(d.buf); err != nil {
		return fmt.Errorf("write to ws2812b strand: %w", err)
	}
	return nil
}

// Halt implements Driver.
func (d *NRZ) Halt() error { return d.leds.Halt() }

// DotStar drives a strand of APA102 LEDs.
type DotStar struct {
	leds *dotstar.LEDs
}

// NewDotStar opens a strand of n APA102 LEDs on a spidev device, like /dev/spidev0.0.
func NewDotStar(dev string, n int) (*DotStar, error) {
	leds, err := dotstar.Open(&spi.Devfs{Dev: dev, Mode: spi.Mode3}, n)
	if err != nil {
		return nil, fmt.Errorf("open dotstar: %w", err)
	}
	return &DotStar{leds: leds}, nil
}

// Write implements Driver.  Brightness is already folded into the colors, so the per-pixel global
// brightness is left at its maximum.
func (d *DotStar) Write(pixels []color.NRGBA) error {
	for i, p := range pixels {
		d.leds.SetRGBA(i, dotstar.RGBA{R: p.R, G: p.G, B: p.B, A: 31})
	}
	if err := d.leds.Draw(); err != nil {
		return fmt.Errorf("draw dotstar: %w", err)
	}
	return nil
}

// Halt implements Driver.
func (d *DotStar) Halt() error { return d.leds.Close() }

// MAX7219 registers.
const (
	maxRegDigit0      = 0x01 // through 0x08
	maxRegDecodeMode  = 0x09
	maxRegIntensity   = 0x0a
	maxRegScanLimit   = 0x0b
	maxRegShutdown    = 0x0c
	maxRegDisplayTest = 0x0f
)

type xferer interface {
	Xfer([]byte) ([]byte, error)
}

// MAX7219 drives a single-color 8x8 matrix through a MAX7219.  Each row is one of the chip's
// "digits", and brightness maps to its 16-step intensity register.
type MAX7219 struct {
	spi   xferer
	close func()
}

// NewMAX7219 opens and initializes a MAX7219 on a spidev device, like /dev/spidev0.0.
func NewMAX7219(dev string) (*MAX7219, error) {
	d, err := spidev.NewSPIDevice(dev)
	if err != nil {
		return nil, fmt.Errorf("open spidev %s: %w", dev, err)
	}
	m := &MAX7219{spi: d, close: func() { d.Close() }}
	if err := m.init(); err != nil {
		d.Close()
		return nil, fmt.Errorf("init max7219: %w", err)
	}
	return m, nil
}

func (m *MAX7219) write(reg, value byte) error {
	if _, err := m.spi.Xfer([]byte{reg, value}); err != nil {
		return fmt.Errorf("write register %#x: %w", reg, err)
	}
	return nil
}

func (m *MAX7219) init() error {
	for _, cmd := range [][2]byte{
		{maxRegScanLimit, 0x07},   // all 8 rows
		{maxRegDecodeMode, 0x00},  // raw segments, not BCD
		{maxRegDisplayTest, 0x00}, // display test off
		{maxRegShutdown, 0x01},    // shutdown off
		{maxRegIntensity, 0x00},
	} {
		if err := m.write(cmd[0], cmd[1]); err != nil {
			return err
		}
	}
	return nil
}

// maxRows converts strand-ordered pixels to one byte per row, most significant bit on the left.
// It also returns the brightest channel value seen.
func maxRows(pixels []color.NRGBA) ([rows]byte, uint8) {
	var result [rows]byte
	var brightest uint8
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			p := pixels[IndexOf(x, y)]
			v := p.R
			if p.G > v {
				v = p.G
			}
			if p.B > v {
				v = p.B
			}
			if v == 0 {
				continue
			}
			result[y] |= 0x80 >> x
			if v > brightest {
				brightest = v
			}
		}
	}
	return result, brightest
}

// Write implements Driver.
func (m *MAX7219) Write(pixels []color.NRGBA) error {
	rowBits, brightest := maxRows(pixels)
	if err := m.write(maxRegIntensity, brightest>>4); err != nil {
		return err
	}
	for y, bits := range rowBits {
		if err := m.write(byte(maxRegDigit0+y), bits); err != nil {
			return err
		}
	}
	return nil
}

// Halt implements Driver.  The chip is put in shutdown mode, which blanks the matrix.
func (m *MAX7219) Halt() error {
	err := m.write(maxRegShutdown, 0x00)
	if m.close != nil {
		m.close()
	}
	return err
}
