package trend

import (
	"math"
	"testing"
	"time"
)

func TestFit_GrowingQueue(t *testing.T) {
	now := time.Now()
	points := []Point{
		{Ts: now.Add(-10 * time.Second), Value: 2},
		{Ts: now.Add(-5 * time.Second), Value: 6},
		{Ts: now, Value: 10},
	}

	tr, err := Fit(points)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if tr.Slope <= 0 {
		t.Errorf("Expected positive slope, got %f", tr.Slope)
	}
	if math.Abs(tr.Slope-0.8) > 1e-9 {
		t.Errorf("Expected slope 0.8/s, got %f", tr.Slope)
	}
	if !tr.Growing(0.5) {
		t.Error("Expected Growing(0.5) to be true")
	}
	if tr.DrainSeconds(10) != math.MaxInt64 {
		t.Errorf("Growing queue should never drain, got %d", tr.DrainSeconds(10))
	}
}

func TestFit_DrainingQueue(t *testing.T) {
	now := time.Now()
	points := []Point{
		{Ts: now.Add(-10 * time.Second), Value: 20},
		{Ts: now.Add(-5 * time.Second), Value: 15},
		{Ts: now, Value: 10},
	}

	tr, err := Fit(points)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if tr.Slope >= 0 {
		t.Errorf("Expected negative slope, got %f", tr.Slope)
	}
	if got := tr.DrainSeconds(10); got != 10 {
		t.Errorf("Expected 10s to drain, got %d", got)
	}
	if tr.Growing(0) {
		t.Error("Draining queue should not report growing")
	}
}

func TestFit_FlatQueue(t *testing.T) {
	now := time.Now()
	points := []Point{
		{Ts: now.Add(-10 * time.Second), Value: 5},
		{Ts: now.Add(-5 * time.Second), Value: 5},
		{Ts: now, Value: 5},
	}

	tr, err := Fit(points)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if tr.Slope != 0 {
		t.Errorf("Expected zero slope, got %f", tr.Slope)
	}
	if tr.Variance != 0 {
		t.Errorf("Expected zero variance on perfect fit, got %f", tr.Variance)
	}
	if tr.DrainSeconds(5) != math.MaxInt64 {
		t.Errorf("Flat queue should never drain, got %d", tr.DrainSeconds(5))
	}
	if tr.DrainSeconds(0) != 0 {
		t.Errorf("Empty queue is already drained, got %d", tr.DrainSeconds(0))
	}
}

func TestFit_InsufficientSamples(t *testing.T) {
	if _, err := Fit([]Point{{Ts: time.Now(), Value: 1}}); err != ErrInsufficientSamples {
		t.Fatalf("Expected ErrInsufficientSamples, got %v", err)
	}
	if _, err := Fit(nil); err != ErrInsufficientSamples {
		t.Fatalf("Expected ErrInsufficientSamples, got %v", err)
	}
}

func TestFit_NoTimeVariation(t *testing.T) {
	now := time.Now()
	points := []Point{
		{Ts: now, Value: 1},
		{Ts: now, Value: 2},
	}
	if _, err := Fit(points); err == nil {
		t.Fatal("Expected error when all samples share a timestamp")
	}
}
