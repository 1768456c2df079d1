package trend

import (
	"errors"
	"math"
	"time"
)

// Point is one sampled measurement of a per-file gauge, typically the
// pending-change queue depth.
type Point struct {
	Ts    time.Time
	Value float64
}

// Trend is a least-squares line fitted over a sample window. Slope is in
// value units per second.
type Trend struct {
	Slope     float64
	Intercept float64
	Variance  float64
}

var ErrInsufficientSamples = errors.New("insufficient samples for trend fit")

// Fit performs linear regression value = intercept + slope*x over the
// window, with x measured in seconds since the first sample.
func Fit(points []Point) (Trend, error) {
	if len(points) < 2 {
		return Trend{}, ErrInsufficientSamples
	}

	start := points[0].Ts.Unix()
	slope, variance, intercept, err := calculateSlope(points, start)
	if err != nil {
		return Trend{}, err
	}
	return Trend{Slope: slope, Intercept: intercept, Variance: variance}, nil
}

// Growing reports whether the fitted line rises faster than threshold,
// in units per second.
func (t Trend) Growing(threshold float64) bool {
	return t.Slope > threshold
}

// DrainSeconds projects how long a queue at depth takes to reach zero if
// the trend holds. A flat or growing trend never drains, reported as
// math.MaxInt64.
func (t Trend) DrainSeconds(depth float64) int64 {
	if t.Slope >= 0 || depth <= 0 {
		if depth <= 0 {
			return 0
		}
		return math.MaxInt64
	}
	return int64(depth / -t.Slope)
}

// calculateSlope fits y = a + bx over the samples.
func calculateSlope(points []Point, start int64) (slope float64, variance float64, intercept float64, err error) {
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))

	for _, p := range points {
		x := float64(p.Ts.Unix() - start)
		y := p.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	// Slope b = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// No variation in time, can't fit line
		return 0, 0, 0, errors.New("no time variation in samples")
	}
	b := (n*sumXY - sumX*sumY) / denom
	a := (sumY - b*sumX) / n

	var sumResidualsSq float64
	for _, p := range points {
		x := float64(p.Ts.Unix() - start)
		predicted := a + b*x
		residual := p.Value - predicted
		sumResidualsSq += residual * residual
	}
	// degrees of freedom = n - 2
	if n > 2 {
		variance = sumResidualsSq / (n - 2)
	}

	return b, variance, a, nil
}
