// Package light reads the ambient light level and decides how bright the face should be.
package light

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// MaxSample is the largest value a Sensor returns; samples are on the scale of a 12-bit ADC.
const MaxSample = 4095

// Setting is the operator's brightness configuration.
type Setting struct {
	DarkLevel  int `json:"darkLevel"`
	LightLevel int `json:"lightLevel"`
	Threshold  int `json:"threshold"`
}

// DefaultSetting is used until someone saves a setting through the web interface.
var DefaultSetting = Setting{DarkLevel: 10, LightLevel: 50, Threshold: 500}

// Validate checks that the levels fit in a byte and the threshold is a possible sample.
func (s Setting) Validate() error {
	var errs []error
	if s.DarkLevel < 0 || s.DarkLevel > 255 {
		errs = append(errs, fmt.Errorf("dark level %d is not in [0, 255]", s.DarkLevel))
	}
	if s.LightLevel < 0 || s.LightLevel > 255 {
		errs = append(errs, fmt.Errorf("light level %d is not in [0, 255]", s.LightLevel))
	}
	if s.Threshold < 0 || s.Threshold > MaxSample {
		errs = append(errs, fmt.Errorf("threshold %d is not in [0, %d]", s.Threshold, MaxSample))
	}
	return errors.Join(errs...)
}

// BrightnessFor returns the LED brightness to use when the room is as bright as sample.
func BrightnessFor(sample int, s Setting) uint8 {
	if sample < s.Threshold {
		return uint8(s.DarkLevel)
	}
	return uint8(s.LightLevel)
}

// Sensor is something that can measure ambient light.
type Sensor interface {
	// Read returns the current light level, scaled to [0, MaxSample].
	Read() (int, error)
}

// Average takes n readings from s and returns their mean.  Any failed reading fails the whole
// sample.
func Average(s Sensor, n int) (int, error) {
	if n < 1 {
		n = 1
	}
	var total int
	for i := 0; i < n; i++ {
		v, err := s.Read()
		if err != nil {
			return 0, fmt.Errorf("reading %d of %d: %w", i+1, n, err)
		}
		total += v
	}
	return total / n, nil
}

var (
	ambientGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ambient_light",
		Help: "most recent averaged ambient light sample, on a 12-bit scale",
	})
	sampleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ambient_light_errors_total",
		Help: "count of ambient light samples that could not be read",
	})
)

// Monitor averages n readings from s every interval and sends the result to ch, until the context
// is cancelled.  Failed samples are logged and skipped.
func Monitor(ctx context.Context, s Sensor, n int, interval time.Duration, ch chan<- int) error {
	l := trace.NewEventLog("sensor", "ambient light")
	defer l.Finish()
	log.Printf("starting ambient light loop")
	first := true
	for {
		if first {
			first = false
		} else {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return fmt.Errorf("waiting for next sample: %w", ctx.Err())
			}
		}
		sample, err := Average(s, n)
		if err != nil {
			sampleErrors.Inc()
			l.Errorf("error: read ambient light: %v", err)
			continue
		}
		l.Printf("ambient light: %v", sample)
		ambientGauge.Set(float64(sample))
		select {
		case ch <- sample:
		case <-ctx.Done():
			return fmt.Errorf("sending sample: %w", ctx.Err())
		}
	}
}

// SampleLine formats an ambient light sample as InfluxDB line protocol.
func SampleLine(machine string, sample int, brightness uint8, t time.Time) string {
	return fmt.Sprintf("ambient,machine=%s sample=%vi,brightness=%vu %v", machine, sample, brightness, t.UnixNano())
}
