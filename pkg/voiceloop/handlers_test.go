package voiceloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSilenceDetectorWaitsForSpeech(t *testing.T) {
	var fired int32
	detector := CreateSilenceDetector(0.1, 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	quiet := make([]float32, 64)
	loud := make([]float32, 64)
	for i := range loud {
		loud[i] = 0.5
	}

	// Leading silence before any speech must never end the capture.
	for i := 0; i < 10; i++ {
		detector(quiet)
		time.Sleep(3 * time.Millisecond)
	}
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("detector fired on leading silence")
	}

	detector(loud)
	detector(quiet)
	time.Sleep(15 * time.Millisecond)
	detector(quiet)

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("detector fired %d times, want 1", atomic.LoadInt32(&fired))
	}

	// After firing the detector re-arms and waits for speech again.
	detector(quiet)
	time.Sleep(15 * time.Millisecond)
	detector(quiet)
	if atomic.LoadInt32(&fired) != 1 {
		t.Error("detector fired again without new speech")
	}
}

func TestSilenceDetectorResetOnSpeech(t *testing.T) {
	var fired int32
	detector := CreateSilenceDetector(0.1, 20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	quiet := make([]float32, 64)
	loud := make([]float32, 64)
	for i := range loud {
		loud[i] = 0.5
	}

	detector(loud)
	detector(quiet)
	time.Sleep(10 * time.Millisecond)
	// Speech resumes before the silence window elapses.
	detector(loud)
	detector(quiet)
	time.Sleep(10 * time.Millisecond)
	detector(quiet)

	if atomic.LoadInt32(&fired) != 0 {
		t.Error("detector fired although the silence window restarted")
	}
}

func TestLevelMonitorReportsPeak(t *testing.T) {
	var gotAvg, gotPeak float32
	monitor := CreateLevelMonitor(func(avg, peak float32) {
		gotAvg, gotPeak = avg, peak
	})

	monitor([]float32{0.1, -0.4, 0.2})
	if gotPeak != 0.4 {
		t.Errorf("peak = %f, want 0.4", gotPeak)
	}
	if gotAvg <= 0 {
		t.Errorf("avg = %f, want positive", gotAvg)
	}

	// Empty fragments are ignored.
	gotPeak = -1
	monitor(nil)
	if gotPeak != -1 {
		t.Error("callback ran for an empty fragment")
	}
}

func TestChainStateHandlers(t *testing.T) {
	var order []int
	chained := ChainStateHandlers(
		func(TurnState) { order = append(order, 1) },
		nil,
		func(TurnState) { order = append(order, 2) },
	)

	chained(TurnIdle)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("handlers ran as %v, want [1 2]", order)
	}
}
