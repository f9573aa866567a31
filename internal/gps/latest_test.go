package gps

import (
	"sync"
	"testing"
)

func TestLatest_TakeClears(t *testing.T) {
	var l Latest
	if _, ok := l.Take(); ok {
		t.Fatalf("expected empty cell")
	}
	l.Publish(Fix{Valid: true, UTCTime: 1})
	l.Publish(Fix{Valid: true, UTCTime: 2})

	fix, ok := l.Take()
	if !ok || fix.UTCTime != 2 {
		t.Fatalf("expected newest fix, got %+v ok=%v", fix, ok)
	}
	if _, ok := l.Take(); ok {
		t.Fatalf("expected fix consumed")
	}
}

func TestLatest_Invalidate(t *testing.T) {
	var l Latest
	l.Publish(Fix{Valid: true, UTCTime: 7})
	l.Invalidate()
	fix, ok := l.Take()
	if !ok || fix.Valid || fix.UTCTime != 7 {
		t.Fatalf("got %+v ok=%v", fix, ok)
	}

	l.Invalidate()
	if _, ok := l.Take(); ok {
		t.Fatalf("invalidate raised ready")
	}
}

func TestLatest_ConcurrentPublishTake(t *testing.T) {
	var l Latest
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			l.Publish(Fix{Valid: true, UTCTime: int64(i), NumSatellites: uint8(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if fix, ok := l.Take(); ok && uint8(fix.UTCTime) != fix.NumSatellites {
				t.Errorf("torn fix %+v", fix)
				return
			}
		}
	}()
	wg.Wait()
}
