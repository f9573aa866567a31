package gps

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// DemoDMA simulates a receiver streaming NMEA into a circular buffer. Each
// step writes a GPGGA sentence for a point driving in a circle, mixed with
// the other sentences and line noise a real receiver emits.
type DemoDMA struct {
	dmaRing

	interval time.Duration

	mu   sync.Mutex
	t    float64
	rnd  *rand.Rand
	stop chan struct{}
	done chan struct{}
}

// NewDemoDMA creates a simulated peripheral that emits one burst of
// sentences per interval. A zero interval disables the background writer
// and bursts are produced only by Step.
func NewDemoDMA(interval time.Duration) *DemoDMA {
	return &DemoDMA{
		interval: interval,
		rnd:      rand.New(rand.NewSource(1)),
	}
}

func (d *DemoDMA) Name() string { return "Demo GPS (Simulated)" }

// StartReceive begins writing simulated sentences into buf.
func (d *DemoDMA) StartReceive(buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return fmt.Errorf("gps: demo already receiving")
	}
	if err := d.start(buf); err != nil {
		return err
	}
	if d.interval <= 0 {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	return nil
}

func (d *DemoDMA) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

// Step writes one burst: a GSA sentence, a GPGGA sentence and, now and
// then, a stray control byte.
func (d *DemoDMA) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1
	t := d.t
	noise := d.rnd.Float64() < 0.2

	d.write([]byte(sentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1")))
	if noise {
		d.write([]byte{0x00, 0x1b})
	}
	d.write([]byte(demoGGA(t)))
}

// Close stops the background writer.
func (d *DemoDMA) Close() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// demoGGA renders the simulated fix at virtual time t.
func demoGGA(t float64) string {
	// Simulate driving in a circle around a point
	centerLat := 43.6532 // Toronto
	centerLon := -79.3832
	radius := 0.005 // ~500m

	lat, ns := nmeaCoord(centerLat+radius*math.Sin(t*0.1), 2, "N", "S")
	lon, ew := nmeaCoord(centerLon+radius*math.Cos(t*0.1), 3, "E", "W")
	utc := time.Now().UTC().Format("150405.00")
	body := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,12,0.8,76.0,M,-34.0,M,,", utc, lat, ns, lon, ew)
	return sentence(body)
}

// sentence frames an NMEA body with '$', its checksum and CRLF.
func sentence(body string) string {
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

// nmeaCoord formats decimal degrees as ddmm.mmmm (width 2) or dddmm.mmmm
// (width 3) plus the hemisphere letter.
func nmeaCoord(v float64, width int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	min := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", width, int(deg), min), hemi
}
