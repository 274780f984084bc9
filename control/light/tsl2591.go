package light

import (
	"encoding/binary"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/i2c"
)

// TSL2591Addr is the fixed i2c address of the TSL2591.
const TSL2591Addr = 0x29

const (
	tslCommand = 0xa0 // command bit plus normal register addressing

	tslEnable  = 0x00
	tslControl = 0x01
	tslID      = 0x12
	tslFull    = 0x14 // channel 0, visible plus infrared
	tslIR      = 0x16 // channel 1, infrared only

	tslPowerOn = 0x01
	tslALS     = 0x02
	tslAIEN    = 0x10
	tslNPIEN   = 0x80

	tslDeviceID = 0x50

	// Medium gain (25x), 100ms integration.
	tslMediumGain  = 0x10
	tslIntegration = 0x00
	tslGainFactor  = 25.0
	tslIntegMillis = 100.0
)

var luxGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ambient_lux",
	Help: "illuminance at the light sensor, in lux; only reported by the tsl2591",
})

// TSL2591 is a driver for the AMS TSL2591 light-to-digital converter.
type TSL2591 struct {
	dev i2c.Dev
}

// NewTSL2591 checks that a TSL2591 is on the bus, powers it up, and configures it for indoor light
// levels.
func NewTSL2591(bus i2c.Bus) (*TSL2591, error) {
	t := &TSL2591{dev: i2c.Dev{Bus: bus, Addr: TSL2591Addr}}
	id, err := t.read(tslID)
	if err != nil {
		return nil, fmt.Errorf("read device id: %w", err)
	}
	if got, want := byte(id), byte(tslDeviceID); got != want {
		return nil, fmt.Errorf("device at %#x is not a TSL2591 (got: %x, want: %x)", TSL2591Addr, got, want)
	}
	if err := t.write(tslEnable, tslPowerOn|tslALS|tslAIEN|tslNPIEN); err != nil {
		return nil, fmt.Errorf("power on: %w", err)
	}
	if err := t.write(tslControl, tslMediumGain|tslIntegration); err != nil {
		return nil, fmt.Errorf("set gain and integration time: %w", err)
	}
	return t, nil
}

// read returns the little-endian 16-bit value starting at register r.
func (t *TSL2591) read(r byte) (uint16, error) {
	var buf [2]byte
	if err := t.dev.Tx([]byte{tslCommand | r}, buf[:]); err != nil {
		return 0, fmt.Errorf("read register %#x: %w", r, err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (t *TSL2591) write(r, v byte) error {
	if err := t.dev.Tx([]byte{tslCommand | r, v}, nil); err != nil {
		return fmt.Errorf("write register %#x: %w", r, err)
	}
	return nil
}

// Channels returns the raw full-spectrum and infrared counts.
func (t *TSL2591) Channels() (full, ir uint16, err error) {
	if full, err = t.read(tslFull); err != nil {
		return 0, 0, fmt.Errorf("full spectrum: %w", err)
	}
	if ir, err = t.read(tslIR); err != nil {
		return 0, 0, fmt.Errorf("infrared: %w", err)
	}
	return full, ir, nil
}

// Read implements Sensor.  The 16-bit full-spectrum count is truncated to 12 bits, which keeps the
// threshold on the same scale no matter which sensor is installed.  Each read also updates the
// ambient_lux gauge.
func (t *TSL2591) Read() (int, error) {
	full, ir, err := t.Channels()
	if err != nil {
		return 0, fmt.Errorf("read channels: %w", err)
	}
	luxGauge.Set(Lux(full, ir))
	return int(full >> 4), nil
}

// Lux estimates illuminance from the channel counts, using the Adafruit library's formula at the
// gain and integration time NewTSL2591 configures.  It returns 0 when the reading is all infrared.
func Lux(full, ir uint16) float64 {
	if full == 0 || ir >= full {
		return 0
	}
	f, i := float64(full), float64(ir)
	countsPerLux := tslGainFactor * tslIntegMillis / 408
	return (f - i) * (1 - i/f) / countsPerLux
}
