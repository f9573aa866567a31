package gps

import (
	"math"
	"testing"
	"time"
)

func TestDemoDMA_StepDecodes(t *testing.T) {
	demo := NewDemoDMA(0)
	d := NewDriver(DefaultBufferSize)
	if err := d.Initialize(demo); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer demo.Close()

	for i := 0; i < 10; i++ {
		demo.Step()
		d.Update()
		fix, ok := d.GetLatestData()
		if !ok {
			t.Fatalf("step %d: expected fix", i)
		}
		if !fix.Valid || fix.FixQuality != 1 || fix.NumSatellites != 12 {
			t.Fatalf("step %d: unexpected fix %+v", i, fix)
		}
		if math.Abs(fix.Latitude-43.6532) > 0.01 || math.Abs(fix.Longitude+79.3832) > 0.01 {
			t.Fatalf("step %d: fix off course %+v", i, fix)
		}
	}
	st := d.Stats()
	if st.Decoded != 10 || st.Ignored != 10 || st.Overruns != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDemoDMA_BackgroundWriter(t *testing.T) {
	demo := NewDemoDMA(5 * time.Millisecond)
	d := NewDriver(1024)
	if err := d.Initialize(demo); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer demo.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.Update()
		if _, ok := d.GetLatestData(); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no fix from background writer")
}

func TestDemoDMA_EmptyBuffer(t *testing.T) {
	if err := NewDemoDMA(0).StartReceive(nil); err != ErrEmptyBuffer {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestNMEACoord(t *testing.T) {
	raw, hemi := nmeaCoord(-79.3832, 3, "E", "W")
	if hemi != "W" || raw != "07922.9920" {
		t.Fatalf("got %q %q", raw, hemi)
	}
	raw, hemi = nmeaCoord(43.6532, 2, "N", "S")
	if hemi != "N" || raw != "4339.1920" {
		t.Fatalf("got %q %q", raw, hemi)
	}
}
