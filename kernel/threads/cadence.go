package threads

import (
	"time"

	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// MinTickInterval is the shortest delay between autonomous ticks.
const MinTickInterval = time.Millisecond

// speedAnchors are tick intervals, in milliseconds, at 0, 25, 50, 75 and 100 percent.
var speedAnchors = []float64{1000, 400, 120, 33, 4}

// TickInterval maps a speed percentage to the delay between autonomous
// ticks. Higher speed never yields a longer interval.
func TickInterval(speedPercentage float64) time.Duration {
	ms := utils.Lerp(speedAnchors, speedPercentage)
	d := time.Duration(ms * float64(time.Millisecond))
	if d < MinTickInterval {
		return MinTickInterval
	}
	return d
}

// ControlParameters are the worker's tunables, both percentages in [0, 100].
type ControlParameters struct {
	Speed float64
	Step  float64
}

// DefaultParameters is what a fresh worker runs with.
func DefaultParameters() ControlParameters {
	return ControlParameters{Speed: 50, Step: 10}
}

func (p ControlParameters) clamped() ControlParameters {
	return ControlParameters{
		Speed: utils.ClampPercentage(p.Speed),
		Step:  utils.ClampPercentage(p.Step),
	}
}
