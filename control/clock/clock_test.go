package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jrockway/wordclock/control/light"
	"github.com/jrockway/wordclock/control/words"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTick(t *testing.T) {
	ctx, c := context.WithCancel(context.Background())
	timeout := 1500 * time.Millisecond
	jitter := 100 * time.Millisecond

	tch := make(chan time.Time)
	errch := make(chan error)
	go func() {
		errch <- Tick(ctx, tch)
		close(errch)
		close(tch)
	}()

	// Check that ticks arrive and they're about a second apart.
	var a, b time.Time
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for first tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for first tick: %v", err)
	case a = <-tch:
		if delay := time.Since(a); delay > jitter {
			t.Errorf("delayed first tick: %s", delay)
		}
	}
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for second tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for second tick: %v", err)
	case b = <-tch:
		if delay := time.Since(b); delay > jitter {
			t.Errorf("delayed second tick: %s", delay)
		}
	}
	if diff := b.Sub(a); diff > timeout {
		t.Errorf("too much delay between ticks: %s", diff)
	}

	// Check that missed ticks do not block the ticker.
	select {
	case <-time.After(2500 * time.Millisecond):
	case err := <-errch:
		t.Fatalf("unexpected error while sleeping: %v", err)
	}

	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for third tick")
	case err := <-errch:
		t.Fatalf("unexpected error waiting for third tick: %v", err)
	case new := <-tch:
		if delay := time.Since(new); delay > jitter {
			t.Errorf("delayed third tick: %s", delay)
		}
	}

	// Check that cancelling the context stops the ticking.
	c()
	select {
	case <-time.After(timeout):
		t.Fatal("timeout waiting for cancel")
	case err := <-errch:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	}
}

type fakeSource struct {
	sync.Mutex
	hour, minute int
}

func (s *fakeSource) Set(h, m int) {
	s.Lock()
	defer s.Unlock()
	s.hour, s.minute = h, m
}

func (s *fakeSource) Now() (int, int) {
	s.Lock()
	defer s.Unlock()
	return s.hour, s.minute
}

type fakeDisplay struct {
	sync.Mutex
	shows int
	fail  int // number of upcoming Show calls that fail
}

func (d *fakeDisplay) Show(b words.Bitmap, brightness uint8) error {
	d.Lock()
	defer d.Unlock()
	if d.fail > 0 {
		d.fail--
		return errors.New("display unplugged")
	}
	d.shows++
	return nil
}

func (d *fakeDisplay) count() int {
	d.Lock()
	defer d.Unlock()
	return d.shows
}

// startClock runs a clock whose ticks are delivered by the test.
func startClock(t *testing.T, d Display, src Source, s light.Setting) (*Clock, chan<- time.Time, <-chan Render, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	renders := make(chan Render, 16)
	c := New(d, src, s)
	c.tick = func(ctx context.Context, ch chan time.Time) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tm := <-ticks:
				select {
				case ch <- tm:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	c.OnRender = func(r Render) { renders <- r }
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	stop := func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for render loop to exit")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return c, ticks, renders, stop
}

func nextRender(t *testing.T, renders <-chan Render) Render {
	t.Helper()
	select {
	case r := <-renders:
		return r
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for render")
		return Render{}
	}
}

func TestRun(t *testing.T) {
	src := &fakeSource{hour: 2, minute: 28}
	d := &fakeDisplay{}
	setting := light.Setting{DarkLevel: 5, LightLevel: 100, Threshold: 1000}
	c, ticks, renders, stop := startClock(t, d, src, setting)

	ticks <- time.Now()
	r := nextRender(t, renders)
	if got, want := r.Frame.String(), "IT IS HALF PAST TWO"; got != want {
		t.Errorf("first frame:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Rounded, (words.Time{Hour: 2, Minute: 30}); got != want {
		t.Errorf("rounded time:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Brightness, uint8(100); got != want {
		t.Errorf("brightness before any sample:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Bitmap.Count(), 8; got != want {
		t.Errorf("lit leds:\n  got: %v\n want: %v", got, want)
	}

	// The same rounded time is not drawn again.
	src.Set(2, 31)
	ticks <- time.Now()
	src.Set(2, 33)
	ticks <- time.Now()
	r = nextRender(t, renders)
	if got, want := r.Frame.String(), "IT IS TWENTY FIVE TO THREE"; got != want {
		t.Errorf("second frame:\n  got: %v\n want: %v", got, want)
	}
	if got, want := d.count(), 2; got != want {
		t.Errorf("frames shown:\n  got: %v\n want: %v", got, want)
	}

	// A dark room redraws the current frame at the dark level.
	c.SampleCh <- 10
	r = nextRender(t, renders)
	if got, want := r.Brightness, uint8(5); got != want {
		t.Errorf("brightness in the dark:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Sample, 10; got != want {
		t.Errorf("sample:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Rounded, (words.Time{Hour: 2, Minute: 35}); got != want {
		t.Errorf("rounded time after brightness change:\n  got: %v\n want: %v", got, want)
	}

	// A new setting takes effect immediately.
	c.SettingCh <- light.Setting{DarkLevel: 7, LightLevel: 100, Threshold: 1000}
	r = nextRender(t, renders)
	if got, want := r.Brightness, uint8(7); got != want {
		t.Errorf("brightness after new setting:\n  got: %v\n want: %v", got, want)
	}

	// Samples that don't change the brightness don't redraw.  The setting after it forces a
	// frame, so by the time that frame arrives the loop has finished with the sample.
	c.SampleCh <- 20
	c.SettingCh <- light.Setting{DarkLevel: 8, LightLevel: 100, Threshold: 1000}
	r = nextRender(t, renders)
	if got, want := r.Brightness, uint8(8); got != want {
		t.Errorf("brightness after second setting:\n  got: %v\n want: %v", got, want)
	}
	if got, want := r.Sample, 20; got != want {
		t.Errorf("sample seen before second setting:\n  got: %v\n want: %v", got, want)
	}
	if got, want := d.count(), 5; got != want {
		t.Errorf("frames shown (one per render, none for the unchanged sample):\n  got: %v\n want: %v", got, want)
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error after cancel: %v", err)
	}
}

func TestRunRetriesFailedShow(t *testing.T) {
	src := &fakeSource{hour: 7, minute: 0}
	d := &fakeDisplay{fail: 1}
	errorsBefore := testutil.ToFloat64(displayErrorsCounter)
	_, ticks, renders, stop := startClock(t, d, src, light.DefaultSetting)

	ticks <- time.Now()
	ticks <- time.Now()
	r := nextRender(t, renders)
	if got, want := r.Frame.String(), "IT IS SEVEN O'CLOCK"; got != want {
		t.Errorf("frame:\n  got: %v\n want: %v", got, want)
	}
	if got, want := d.count(), 1; got != want {
		t.Errorf("frames shown:\n  got: %v\n want: %v", got, want)
	}
	if got, want := testutil.ToFloat64(displayErrorsCounter)-errorsBefore, 1.0; got != want {
		t.Errorf("display errors:\n  got: %v\n want: %v", got, want)
	}
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error after cancel: %v", err)
	}
}

func TestSimulated(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := &Simulated{clock: func() time.Time { return now }}
	s.Set(12, 0)

	check := func(wantH, wantM int) {
		t.Helper()
		if h, m := s.Now(); h != wantH || m != wantM {
			t.Errorf("simulated time:\n  got: %02d:%02d\n want: %02d:%02d", h, m, wantH, wantM)
		}
	}
	check(12, 0)
	now = now.Add(999 * time.Millisecond)
	check(12, 0)
	now = now.Add(time.Millisecond)
	check(12, 1)
	now = now.Add(59 * time.Second)
	check(13, 0)

	s.Set(23, 59)
	now = now.Add(2 * time.Second)
	check(0, 1)
}

func TestSystem(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s := &System{
		Location: sydney,
		clock:    func() time.Time { return time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC) },
	}
	// Sydney is on daylight time (UTC+11) in January.
	if h, m := s.Now(); h != 11 || m != 30 {
		t.Errorf("sydney time:\n  got: %02d:%02d\n want: 11:30", h, m)
	}
}

func TestSwitch(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	wall := &fakeSource{hour: 9, minute: 41}
	s := NewSwitch(wall)
	s.Simulated.clock = func() time.Time { return now }
	s.Simulated.Set(12, 0)

	if s.Synced() {
		t.Error("new switch claims to be synced")
	}
	if h, m := s.Now(); h != 12 || m != 0 {
		t.Errorf("unsynced time:\n  got: %02d:%02d\n want: 12:00", h, m)
	}

	s.SetSynced(true)
	if h, m := s.Now(); h != 9 || m != 41 {
		t.Errorf("synced time:\n  got: %02d:%02d\n want: 09:41", h, m)
	}

	// Losing sync continues from the last real time.
	s.SetSynced(false)
	now = now.Add(3 * time.Second)
	if h, m := s.Now(); h != 9 || m != 44 {
		t.Errorf("time after losing sync:\n  got: %02d:%02d\n want: 09:44", h, m)
	}
}
