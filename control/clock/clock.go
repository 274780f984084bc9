// Package clock runs the render loop that keeps the face of the clock showing the current time.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/wordclock/control/light"
	"github.com/jrockway/wordclock/control/words"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	missedTicksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missed_ticks",
		Help: "count of ticks that were generated but never received by anything",
	})

	tickDelayMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_delay",
		Help:    "amount of time between seconds tick and when it is sent to the channel, in nanoseconds",
		Buckets: prometheus.ExponentialBuckets(1000, 10, 20),
	})

	rendersCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "renders_total",
		Help: "count of frames written to the display",
	})

	suppressedRendersCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "suppressed_renders_total",
		Help: "count of ticks where the rounded time had not changed, so nothing was drawn",
	})

	displayErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "display_errors_total",
		Help: "count of frames that could not be written to the display",
	})

	brightnessGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brightness",
		Help: "current led brightness, 0-255",
	})
)

// Tick sends the current time to the provided channel at the exact instant that the seconds change.
// An absent listener will not receive an outdated time; the tick will be skipped and the
// missedTicksCounter incremented.  Cancelling the context causes this to return immediately.
func Tick(ctx context.Context, ch chan time.Time) error {
	for {
		nextSecond := time.Now().Add(time.Second).Truncate(time.Second)

		// Wait until the next second starts.
		select {
		case <-time.After(time.Until(nextSecond)):
		case <-ctx.Done():
			return fmt.Errorf("waiting for next second: %w", ctx.Err())
		}

		// Send the time to the channel.
		select {
		case <-time.After(500 * time.Millisecond):
			missedTicksCounter.Inc()
		case <-ctx.Done():
			return fmt.Errorf("waiting to send tick: %w", ctx.Err())
		case ch <- nextSecond:
			tickDelayMetric.Observe(float64(time.Since(nextSecond).Nanoseconds()))
		}
	}
}

// Display is something that can show a bitmap of lit words.
type Display interface {
	Show(b words.Bitmap, brightness uint8) error
}

// Render describes a frame that was just written to the display.
type Render struct {
	At         time.Time
	RawHour    int
	RawMinute  int
	Rounded    words.Time
	Frame      words.Frame
	Bitmap     words.Bitmap
	Brightness uint8
	Sample     int
	Setting    light.Setting
}

// Clock represents a word clock face with parameters that can be changed at runtime.
type Clock struct {
	display Display
	source  Source
	layout  *words.Layout
	setting light.Setting
	tick    func(context.Context, chan time.Time) error

	// SampleCh receives averaged ambient light samples.
	SampleCh chan int
	// SettingCh receives new brightness settings.
	SettingCh chan light.Setting
	// OnRender, if set, is called from the render loop after every frame is displayed.
	OnRender func(Render)
}

// New returns a clock that shows the time from src on d, using the default layout.
func New(d Display, src Source, s light.Setting) *Clock {
	return &Clock{
		display:   d,
		source:    src,
		layout:    words.Default,
		setting:   s,
		tick:      Tick,
		SampleCh:  make(chan int),
		SettingCh: make(chan light.Setting),
	}
}

// Run runs the clock until the context is cancelled.
func (c *Clock) Run(ctx context.Context) error {
	l := trace.NewEventLog("service", "render loop")
	defer l.Finish()

	setting := c.setting
	// Until a sensor reports otherwise, assume the room is lit.
	sample := light.MaxSample
	brightness := light.BrightnessFor(sample, setting)
	brightnessGauge.Set(float64(brightness))

	tickErrCh := make(chan error, 1)
	tickCh := make(chan time.Time)
	go func() {
		tickErrCh <- c.tick(ctx, tickCh)
	}()

	var (
		last    *words.Time
		current Render
	)
	show := func() {
		current.Brightness = brightness
		current.Sample = sample
		current.Setting = setting
		if err := c.display.Show(current.Bitmap, brightness); err != nil {
			displayErrorsCounter.Inc()
			l.Errorf("show %v: %v", current.Rounded, err)
			// Try again on the next tick.
			last = nil
			return
		}
		rendersCounter.Inc()
		if c.OnRender != nil {
			c.OnRender(current)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("render loop: %w", ctx.Err())
		case err := <-tickErrCh:
			return fmt.Errorf("ticker: %w", err)
		case t := <-tickCh:
			h, m := c.source.Now()
			rounded := words.Round(h, m)
			if !words.ShouldRender(last, rounded) {
				suppressedRendersCounter.Inc()
				continue
			}
			frame := words.Select(rounded)
			l.Printf("%02d:%02d -> %v: %v", h, m, rounded, frame)
			last = &rounded
			current = Render{
				At:        t,
				RawHour:   h,
				RawMinute: m,
				Rounded:   rounded,
				Frame:     frame,
				Bitmap:    c.layout.ToBitmap(frame),
			}
			show()
		case sample = <-c.SampleCh:
		case setting = <-c.SettingCh:
			l.Printf("new setting: %#v", setting)
		}

		if b := light.BrightnessFor(sample, setting); b != brightness {
			l.Printf("brightness %v -> %v (sample %v)", brightness, b, sample)
			brightness = b
			brightnessGauge.Set(float64(brightness))
			if current.Bitmap != nil {
				show()
			}
		}
	}
}
