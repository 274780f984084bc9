// Package ntp watches chronyd to find out whether the system clock is synchronized with the
// network.
package ntp

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"github.com/jrockway/wordclock/control/influx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

const (
	// DefaultAddr is where chronyd listens for monitoring commands.
	DefaultAddr = "localhost:323"

	leapUnsynchronized = 3
)

var syncedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ntp_synchronized",
	Help: "1 if chronyd reports that the system clock is synchronized, 0 otherwise",
})

// Status is a snapshot of chronyd's view of the system clock.
type Status struct {
	Now      time.Time
	Synced   bool
	Tracking chrony.Tracking
}

// Synced reports whether a tracking reply means the system clock can be trusted.
func Synced(t chrony.Tracking) bool {
	return t.LeapStatus != leapUnsynchronized && t.Stratum >= 1 && t.Stratum <= 15
}

// Watcher polls chronyd and reports what it finds.
type Watcher struct {
	Addr     string
	Interval time.Duration
	Influx   *influx.Client
	Machine  string
	// Report is called after every poll.  Failures to reach chronyd are reported as unsynced.
	Report func(Status)
}

// Watch polls chronyd until the context is cancelled, reconnecting after errors.
func (w *Watcher) Watch(ctx context.Context) error {
	l := trace.NewEventLog("service", "chrony")
	defer l.Finish()
	for {
		if err := w.monitor(ctx, l); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("watch chrony: %w", ctx.Err())
			}
			log.Printf("monitor chrony exited unexpectedly: %v", err)
			l.Errorf("monitor chrony exited unexpectedly: %v", err)
			w.report(Status{Now: time.Now()})
		}
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return fmt.Errorf("watch chrony: %w", ctx.Err())
		}
	}
}

func (w *Watcher) report(s Status) {
	if s.Synced {
		syncedGauge.Set(1)
	} else {
		syncedGauge.Set(0)
	}
	if w.Report != nil {
		w.Report(s)
	}
}

func (w *Watcher) monitor(ctx context.Context, l trace.EventLog) error {
	addr := w.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	interval := w.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	l.Printf("dial %s", addr)
	conn, err := net.DialTimeout("udp", addr, time.Second)
	if err != nil {
		l.Errorf("dial: %v", err)
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c := chrony.Client{Sequence: 1, Connection: conn}
	log.Printf("connected to chronyd ok; starting loop")
	var wait bool
	for {
		if wait {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			wait = true
		}
		deadline := time.Now().Add(time.Minute)
		if err := conn.SetReadDeadline(deadline); err != nil {
			l.Errorf("set read deadline: %v", err)
			return fmt.Errorf("set read deadline: %w", err)
		}
		l.Printf("extended read deadline to %v", deadline.Format("15:04:05.000000"))

		tres, err := c.Communicate(chrony.NewTrackingPacket())
		if err != nil {
			return fmt.Errorf("get tracking info: communicate: %w", err)
		}
		tracking, ok := tres.(*chrony.ReplyTracking)
		if !ok {
			l.Errorf("tracking reply was of unexpected type: %#v", tres)
			continue
		}
		s := Status{Now: time.Now(), Tracking: tracking.Tracking, Synced: Synced(tracking.Tracking)}
		l.Printf("tracking: %#v (synced: %v)", tracking, s.Synced)
		w.report(s)
		if err := w.Influx.Write(ctx, TrackingLine(w.Machine, s)); err != nil {
			l.Errorf("get tracking info: problem sending to influx: %v", err)
		}
	}
}

// TrackingLine formats a tracking reply as InfluxDB line protocol.
func TrackingLine(machine string, s Status) string {
	t := s.Tracking
	synced := "0u"
	if s.Synced {
		synced = "1u"
	}
	return fmt.Sprintf(`tracking,machine=%s ref_id="%s",stratum=%vu,leap_status=%vu,synced=%s,correction=%v,offset=%v,rms_offset=%v,freq_ppm=%v,skew=%v,root_delay=%v,root_dispersion=%v %v`, machine, FormatRefID(t.RefID), t.Stratum, t.LeapStatus, synced, t.CurrentCorrection, t.LastOffset, t.RMSOffset, t.FreqPPM, t.SkewPPM, t.RootDelay, t.RootDispersion, s.Now.UnixNano())
}

// RefID formats a chrony reference ID.  Reference clocks are named with up to four ASCII
// characters ("GPS", "PPS"); everything else is an IP address.
func RefID(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		last := len(v4)
		for i, b := range v4 {
			if b == 0 && i > 0 {
				last = i
				break
			}
			if b < '0' || b > 'z' {
				last = 0
				break
			}
		}
		if last > 0 {
			return string(v4[0:last])
		}
	}
	return ip.String()
}

// FormatRefID formats the numeric reference ID found in tracking replies.
func FormatRefID(id uint32) string {
	return RefID(net.IPv4(byte((id>>24)&0xff), byte((id>>16)&0xff), byte((id>>8)&0xff), byte(id&0xff)))
}

// LeapStatus describes chrony's leap indicator.
func LeapStatus(x uint16) string {
	// From chrony/client.c and chrony/ntp.h
	switch x {
	case 0:
		return "Normal"
	case 1:
		return "Insert second"
	case 2:
		return "Delete second"
	case 3:
		return "Unsynchronized"
	default:
		return fmt.Sprintf("Invalid (%v)", x)
	}
}
