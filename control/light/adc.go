package light

import (
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

// ADC reads a photoresistor voltage divider on channel 0 of an ADS1015.
type ADC struct {
	pin  ads1x15.PinADC
	max  physic.ElectricPotential
	read func() (analog.Sample, error)
}

// NewADC opens an ADS1015 at its default address.  maxVoltage is the supply voltage of the divider;
// a reading of maxVoltage is reported as MaxSample.
func NewADC(bus i2c.Bus, maxVoltage physic.ElectricPotential) (*ADC, error) {
	dev, err := ads1x15.NewADS1015(bus, &ads1x15.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("init ads1015: %w", err)
	}
	pin, err := dev.PinForChannel(ads1x15.Channel0, maxVoltage, 10*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("open ads1015 channel 0: %w", err)
	}
	return &ADC{pin: pin, max: maxVoltage, read: pin.Read}, nil
}

// Read implements Sensor.
func (a *ADC) Read() (int, error) {
	s, err := a.read()
	if err != nil {
		return 0, fmt.Errorf("read ads1015: %w", err)
	}
	return scaleVoltage(s.V, a.max), nil
}

// Halt stops the ADC's conversions.
func (a *ADC) Halt() error {
	if a.pin == nil {
		return nil
	}
	return a.pin.Halt()
}

// scaleVoltage maps [0, max] onto [0, MaxSample], clamping readings outside that range.
func scaleVoltage(v, max physic.ElectricPotential) int {
	if max <= 0 || v <= 0 {
		return 0
	}
	if v >= max {
		return MaxSample
	}
	return int(int64(v) * MaxSample / int64(max))
}
