// Package enclosure watches the temperature, humidity, and pressure inside the clock's case.
package enclosure

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jrockway/wordclock/control/influx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// BME280Addr is the BME280's address with SDO pulled high, as on Adafruit's breakout.
const BME280Addr = 0x77

var (
	temperatureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enclosure_temperature_celsius",
		Help: "temperature inside the case",
	})
	humidityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enclosure_relative_humidity_percent",
		Help: "relative humidity inside the case",
	})
	pressureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enclosure_pressure_kilopascals",
		Help: "air pressure inside the case",
	})
)

// Sensor measures the environment.  *bmxx80.Dev implements it.
type Sensor interface {
	Sense(e *physic.Env) error
}

// NewBME280 opens a BME280 on bus, oversampling every measurement 16x.
func NewBME280(bus i2c.Bus) (*bmxx80.Dev, error) {
	opts := bmxx80.Opts{Temperature: bmxx80.O16x, Pressure: bmxx80.O16x, Humidity: bmxx80.O16x}
	dev, err := bmxx80.NewI2C(bus, BME280Addr, &opts)
	if err != nil {
		return nil, fmt.Errorf("init bme280: %w", err)
	}
	return dev, nil
}

// Line formats a reading as InfluxDB line protocol.  Temperature is in nanokelvin, humidity in
// tenths of a micro-percent, and pressure in nanopascals, as physic stores them.
func Line(machine string, e physic.Env, t time.Time) string {
	return fmt.Sprintf("environment,machine=%s temperature=%vi,relative_humidity=%vi,pressure=%vi %v", machine, int64(e.Temperature), int64(e.Humidity), int64(e.Pressure), t.UnixNano())
}

// Monitor periodically reads a Sensor.
type Monitor struct {
	Sensor   Sensor
	Interval time.Duration
	Influx   *influx.Client
	Machine  string
	// Report, if set, is called with every successful reading.
	Report func(physic.Env)
}

// Run reads the sensor every interval until the context is cancelled.  Failed readings are logged
// and skipped.
func (m *Monitor) Run(ctx context.Context) error {
	l := trace.NewEventLog("sensor", "environment")
	defer l.Finish()
	interval := m.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	log.Printf("starting environment loop")
	first := true
	for {
		if first {
			first = false
		} else {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return fmt.Errorf("environment loop: %w", ctx.Err())
			}
		}
		var e physic.Env
		if err := m.Sensor.Sense(&e); err != nil {
			l.Errorf("error: read environment: %v", err)
			continue
		}
		l.Printf("Temp: %v, Pressure: %v, Humidity: %v", e.Temperature, e.Pressure, e.Humidity)
		temperatureGauge.Set(float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius))
		humidityGauge.Set(float64(e.Humidity) / float64(physic.PercentRH))
		pressureGauge.Set(float64(e.Pressure) / float64(physic.KiloPascal))
		if m.Report != nil {
			m.Report(e)
		}
		if err := m.Influx.Write(ctx, Line(m.Machine, e, time.Now())); err != nil {
			l.Errorf("error: write influx: %v", err)
		}
	}
}
