package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jrockway/wordclock/control/clock"
	"github.com/jrockway/wordclock/control/enclosure"
	"github.com/jrockway/wordclock/control/influx"
	"github.com/jrockway/wordclock/control/light"
	"github.com/jrockway/wordclock/control/ntp"
	"github.com/jrockway/wordclock/control/screen"
	"github.com/jrockway/wordclock/control/store"
	"github.com/jrockway/wordclock/control/web"
	"github.com/jrockway/wordclock/control/words"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	bind           = flag.String("bind", ":8080", "address to bind for the status page, metrics, and debug server")
	driver         = flag.String("driver", "nrz", "kind of display attached: nrz (ws2812b), dotstar (apa102), max7219, or none")
	spiDev         = flag.String("spi", "/dev/spidev0.0", "spi device that the display is on")
	i2cBus         = flag.String("i2c", "", "i2c bus that the light sensor is on; empty for the first bus")
	sensor         = flag.String("sensor", "ads1015", "kind of light sensor attached: ads1015, tsl2591, or none")
	bme280         = flag.Bool("bme280", false, "if true, monitor the enclosure with a bme280 on the i2c bus")
	tz             = flag.String("tz", "Australia/Sydney", "time zone to show the time in")
	chronyAddr     = flag.String("chrony", ntp.DefaultAddr, "address of chronyd's command port")
	dbFile         = flag.String("db", "wordclock.db", "sqlite database to store settings in")
	samples        = flag.Int("samples", 10, "number of light sensor readings to average")
	sampleInterval = flag.Duration("sample-interval", 10*time.Second, "how often to sample the ambient light")
	powerLimit     = flag.Float64("power-limit", screen.DefaultPowerLimit, "maximum power the display may draw, in watts")
	selfTest       = flag.Duration("self-test", 250*time.Millisecond, "how long to light each LED for at startup; 0 to skip")
	machine        = flag.String("machine", "wordclock", "machine name to report to influxdb")
	apName         = flag.String("ap-name", "", "ssid of the clock's access point, shown as a qr code on the status page")
	apPassword     = flag.String("ap-password", "", "password of the clock's access point")
)

const numLEDs = 64

func openDriver() (screen.Driver, error) {
	switch *driver {
	case "nrz":
		port, err := spireg.Open(*spiDev)
		if err != nil {
			return nil, fmt.Errorf("open spi port %q: %w", *spiDev, err)
		}
		return screen.NewNRZ(port, numLEDs)
	case "dotstar":
		return screen.NewDotStar(*spiDev, numLEDs)
	case "max7219":
		return screen.NewMAX7219(*spiDev)
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown display driver %q", *driver)
}

func openSensor(bus i2c.Bus) (light.Sensor, error) {
	switch *sensor {
	case "none":
		return nil, nil
	case "ads1015":
		return light.NewADC(bus, 3300*physic.MilliVolt)
	case "tsl2591":
		return light.NewTSL2591(bus)
	}
	return nil, fmt.Errorf("unknown light sensor %q", *sensor)
}

func main() {
	flag.Parse()
	if _, err := host.Init(); err != nil {
		log.Fatalf("init periph.io: %v", err)
	}
	if err := words.Default.Validate(); err != nil {
		log.Fatalf("invalid led layout: %v", err)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatalf("load time zone: %v", err)
	}

	db, err := store.OpenDatabase(*dbFile)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	setting, err := db.LoadSetting(light.DefaultSetting)
	if err != nil {
		log.Printf("load brightness setting: %v; using %#v", err, setting)
	}
	log.Printf("brightness setting: %#v", setting)

	d, err := openDriver()
	if err != nil {
		log.Fatalf("init display: %v", err)
	}
	leds := screen.NewScreen(d, words.Default, *powerLimit)
	ctx, cancel := context.WithCancel(context.Background())
	if *selfTest > 0 {
		if err := leds.SelfTest(ctx, light.BrightnessFor(light.MaxSample, setting), *selfTest); err != nil {
			log.Printf("self test: %v", err)
		}
	} else {
		leds.Blank()
	}

	var (
		ambient light.Sensor
		env     enclosure.Sensor
	)
	if *sensor != "none" || *bme280 {
		bus, err := i2creg.Open(*i2cBus)
		if err != nil {
			log.Fatalf("open i2c bus %q: %v", *i2cBus, err)
		}
		ambient, err = openSensor(bus)
		if err != nil {
			log.Fatalf("init light sensor: %v", err)
		}
		if *bme280 {
			env, err = enclosure.NewBME280(bus)
			if err != nil {
				log.Fatalf("init enclosure sensor: %v", err)
			}
		}
	}

	sw := clock.NewSwitch(&clock.System{Location: loc})
	cl := clock.New(leds, sw, setting)

	srv := web.NewServer(db, func(ctx context.Context, s light.Setting) error {
		select {
		case cl.SettingCh <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, leds)
	srv.UpdateStatus(web.Status{Setting: setting, HaveSetting: true})
	if *apName != "" {
		if err := srv.SetAccessPoint(*apName, *apPassword); err != nil {
			log.Printf("access point qr code: %v", err)
		}
	}
	cl.OnRender = func(r clock.Render) {
		srv.UpdateStatus(web.Status{Rendered: true, Render: r, Face: leds.Face()})
	}

	http.Handle("/", srv)
	http.Handle("/metrics", promhttp.Handler())

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: *bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	loopDoneCh := make(chan error)
	go func() {
		err := cl.Run(ctx)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	idb := influx.New(os.Getenv("INFLUXDB_URL"), os.Getenv("INFLUXDB_TOKEN"))
	watcher := &ntp.Watcher{
		Addr:    *chronyAddr,
		Influx:  idb,
		Machine: *machine,
		Report: func(s ntp.Status) {
			sw.SetSynced(s.Synced)
			srv.UpdateStatus(web.Status{Sync: s})
		},
	}
	go watcher.Watch(ctx)

	if env != nil {
		m := &enclosure.Monitor{
			Sensor:  env,
			Influx:  idb,
			Machine: *machine,
			Report:  func(e physic.Env) { srv.UpdateStatus(web.Status{Env: &e}) },
		}
		go m.Run(ctx)
	}
	if ambient != nil {
		sampleCh := make(chan int)
		go light.Monitor(ctx, ambient, *samples, *sampleInterval, sampleCh)
		go recordSamples(ctx, sampleCh, cl.SampleCh, db, idb, srv)
	}

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-loopDoneCh:
		log.Printf("clock loop died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
	}
	signal.Stop(sigCh)
	cancel()
	// The loop may be mid-Show; wait for it before blanking and closing the driver.
	select {
	case <-loopDoneCh:
	case <-time.After(time.Second):
		log.Printf("clock loop did not exit; halting the display anyway")
	}
	if err := leds.Halt(); err != nil {
		log.Printf("halt display: %v", err)
	}
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	db.Close()
	os.Exit(1)
}

// recordSamples forwards ambient light samples to the clock, and records them to the database and
// influxdb.
func recordSamples(ctx context.Context, in <-chan int, out chan<- int, db *store.DB, idb *influx.Client, srv *web.Server) {
	const keep = 7 * 24 * time.Hour
	lastPrune := time.Now()
	for {
		var sample int
		select {
		case sample = <-in:
		case <-ctx.Done():
			return
		}
		select {
		case out <- sample:
		case <-ctx.Done():
			return
		}

		brightness := light.BrightnessFor(sample, srv.CurrentStatus().Setting)
		if err := db.RecordAmbient(sample, brightness); err != nil {
			log.Printf("record ambient light: %v", err)
		}
		if err := idb.Write(ctx, light.SampleLine(*machine, sample, brightness, time.Now())); err != nil {
			log.Printf("write ambient light to influxdb: %v", err)
		}
		if n, err := db.AmbientSince(time.Now().Add(-24 * time.Hour)); err != nil {
			log.Printf("count ambient light samples: %v", err)
		} else {
			srv.UpdateStatus(web.Status{Ambient: n})
		}
		if time.Since(lastPrune) > time.Hour {
			lastPrune = time.Now()
			if n, err := db.PruneAmbient(time.Now().Add(-keep)); err != nil {
				log.Printf("prune ambient light samples: %v", err)
			} else if n > 0 {
				log.Printf("pruned %d old ambient light samples", n)
			}
		}
	}
}
