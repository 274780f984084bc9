package light

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestBrightnessFor(t *testing.T) {
	s := Setting{DarkLevel: 10, LightLevel: 200, Threshold: 1000}
	testData := []struct {
		sample int
		want   uint8
	}{
		{0, 10},
		{999, 10},
		{1000, 200},
		{1001, 200},
		{MaxSample, 200},
		{-5, 10},
	}
	for _, test := range testData {
		if got, want := BrightnessFor(test.sample, s), test.want; got != want {
			t.Errorf("brightness for %d:\n  got: %v\n want: %v", test.sample, got, want)
		}
	}

	// A zero threshold means the room is never dark.
	if got, want := BrightnessFor(0, Setting{DarkLevel: 1, LightLevel: 2}), uint8(2); got != want {
		t.Errorf("zero threshold:\n  got: %v\n want: %v", got, want)
	}
}

func TestBrightnessIsMonotonic(t *testing.T) {
	s := Setting{DarkLevel: 5, LightLevel: 80, Threshold: 2048}
	last := BrightnessFor(0, s)
	for sample := 1; sample <= MaxSample; sample++ {
		b := BrightnessFor(sample, s)
		if b < last {
			t.Fatalf("brightness decreased from %v to %v at sample %d", last, b, sample)
		}
		last = b
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultSetting.Validate(); err != nil {
		t.Errorf("default setting: %v", err)
	}
	for _, s := range []Setting{
		{DarkLevel: -1, LightLevel: 0, Threshold: 0},
		{DarkLevel: 0, LightLevel: 256, Threshold: 0},
		{DarkLevel: 0, LightLevel: 0, Threshold: 4096},
		{DarkLevel: 0, LightLevel: 0, Threshold: -1},
	} {
		if err := s.Validate(); err == nil {
			t.Errorf("setting %#v: expected error", s)
		}
	}
	if err := (Setting{DarkLevel: 255, LightLevel: 255, Threshold: MaxSample}).Validate(); err != nil {
		t.Errorf("maximum setting: %v", err)
	}
}

type fakeSensor struct {
	values []int
	err    error
	reads  int
}

func (f *fakeSensor) Read() (int, error) {
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v, nil
}

func TestAverage(t *testing.T) {
	s := &fakeSensor{values: []int{100, 200, 300, 400}}
	got, err := Average(s, 4)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if want := 250; got != want {
		t.Errorf("average:\n  got: %v\n want: %v", got, want)
	}

	constant := &fakeSensor{values: []int{1234}}
	got, err = Average(constant, 10)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if want := 1234; got != want {
		t.Errorf("average of constant readings:\n  got: %v\n want: %v", got, want)
	}
	if got, want := constant.reads, 10; got != want {
		t.Errorf("readings taken:\n  got: %v\n want: %v", got, want)
	}

	errBroken := errors.New("broken")
	if _, err := Average(&fakeSensor{err: errBroken}, 10); !errors.Is(err, errBroken) {
		t.Errorf("average of broken sensor: unexpected error %v", err)
	}
}

func TestScaleVoltage(t *testing.T) {
	max := 5 * physic.Volt
	testData := []struct {
		v    physic.ElectricPotential
		want int
	}{
		{0, 0},
		{-physic.Volt, 0},
		{max, MaxSample},
		{6 * physic.Volt, MaxSample},
		{2500 * physic.MilliVolt, 2047},
	}
	for _, test := range testData {
		if got, want := scaleVoltage(test.v, max), test.want; got != want {
			t.Errorf("scale %v:\n  got: %v\n want: %v", test.v, got, want)
		}
	}
}

func TestADCRead(t *testing.T) {
	a := &ADC{max: 5 * physic.Volt, read: func() (analog.Sample, error) {
		return analog.Sample{V: 1250 * physic.MilliVolt}, nil
	}}
	got, err := a.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := 1023; got != want {
		t.Errorf("read:\n  got: %v\n want: %v", got, want)
	}
}

func TestTSL2591(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: TSL2591Addr, W: []byte{0xb2}, R: []byte{0x50, 0x00}},
			{Addr: TSL2591Addr, W: []byte{0xa0, 0x93}},
			{Addr: TSL2591Addr, W: []byte{0xa1, 0x10}},
			{Addr: TSL2591Addr, W: []byte{0xb4}, R: []byte{0x34, 0x12}},
			{Addr: TSL2591Addr, W: []byte{0xb6}, R: []byte{0x00, 0x01}},
		},
	}
	light, err := NewTSL2591(bus)
	if err != nil {
		t.Fatalf("init tsl2591: %v", err)
	}
	got, err := light.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := 0x123; got != want {
		t.Errorf("read:\n  got: %#x\n want: %#x", got, want)
	}
	if got, want := testutil.ToFloat64(luxGauge), 679.25; !cmp.Equal(got, want, cmpopts.EquateApprox(0, 0.01)) {
		t.Errorf("lux gauge:\n  got: %v\n want: %v", got, want)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("close playback: %v", err)
	}
}

func TestLux(t *testing.T) {
	testData := []struct {
		name     string
		full, ir uint16
		want     float64
	}{
		{"dark", 0, 0, 0},
		{"no infrared", 1000, 0, 163.2},
		{"some infrared", 0x1234, 0x100, 679.25},
		{"all infrared", 500, 500, 0},
		{"more infrared than total", 100, 200, 0},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			got := Lux(test.full, test.ir)
			if !cmp.Equal(got, test.want, cmpopts.EquateApprox(0, 0.01)) {
				t.Errorf("lux(%d, %d):\n  got: %v\n want: %v", test.full, test.ir, got, test.want)
			}
		})
	}
}

func TestTSL2591WrongDevice(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: TSL2591Addr, W: []byte{0xb2}, R: []byte{0x42, 0x00}},
		},
	}
	if _, err := NewTSL2591(bus); err == nil {
		t.Error("expected error for unknown device id")
	}
}

func TestMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan int)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Monitor(ctx, &fakeSensor{values: []int{42}}, 3, time.Millisecond, ch)
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			if want := 42; got != want {
				t.Errorf("sample %d:\n  got: %v\n want: %v", i, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for sample %d", i)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for monitor to exit")
	}
}

func TestSampleLine(t *testing.T) {
	got := SampleLine("kitchen", 1234, 50, time.Unix(1, 5))
	if want := "ambient,machine=kitchen sample=1234i,brightness=50u 1000000005"; got != want {
		t.Errorf("line:\n  got: %v\n want: %v", got, want)
	}
}
