// Package protocol defines the controller-to-worker command vocabulary,
// the worker-to-controller signals, and the wire codecs used by remote
// control surfaces.
package protocol

import (
	"errors"
	"fmt"
)

// Action tags a command.
type Action string

const (
	ActionCanvasInit  Action = "canvasInit"
	ActionLoadImage   Action = "loadImage"
	ActionStart       Action = "start"
	ActionStep        Action = "step"
	ActionStop        Action = "stop"
	ActionChangeSpeed Action = "changeSpeed"
	ActionChangeStep  Action = "changeStep"
)

var knownActions = map[Action]bool{
	ActionCanvasInit:  true,
	ActionLoadImage:   true,
	ActionStart:       true,
	ActionStep:        true,
	ActionStop:        true,
	ActionChangeSpeed: true,
	ActionChangeStep:  true,
}

// Known reports whether the worker recognises a.
func (a Action) Known() bool {
	return knownActions[a]
}

// Remote reports whether a may arrive from a remote control surface.
// canvasInit carries an in-process surface and loadImage needs a pixel
// upload, so neither is accepted over the wire.
func (a Action) Remote() bool {
	switch a {
	case ActionStart, ActionStep, ActionStop, ActionChangeSpeed, ActionChangeStep:
		return true
	}
	return false
}

var ErrMissingPayload = errors.New("command payload missing")

// Command is one controller-to-worker message. Only the payload field
// matching Action is meaningful.
type Command struct {
	Action Action
	Speed  float64 // changeSpeed: newSpeedPercentage
	Step   float64 // changeStep: newStepPercentage
	// Surface is the render target for canvasInit. It never leaves the process.
	Surface any
}

func Start() Command { return Command{Action: ActionStart} }
func Stop() Command  { return Command{Action: ActionStop} }
func Step() Command  { return Command{Action: ActionStep} }

// LoadImage tells the worker the pixel plane was reseeded.
func LoadImage() Command { return Command{Action: ActionLoadImage} }

// ChangeSpeed sets the tick rate as a percentage in [0, 100].
func ChangeSpeed(pct float64) Command {
	return Command{Action: ActionChangeSpeed, Speed: pct}
}

// ChangeStep sets the per-tick shift as a percentage in [0, 100].
func ChangeStep(pct float64) Command {
	return Command{Action: ActionChangeStep, Step: pct}
}

// CanvasInit binds a render surface to the controller.
func CanvasInit(surface any) Command {
	return Command{Action: ActionCanvasInit, Surface: surface}
}

func (c Command) String() string {
	switch c.Action {
	case ActionChangeSpeed:
		return fmt.Sprintf("%s(%.1f)", c.Action, c.Speed)
	case ActionChangeStep:
		return fmt.Sprintf("%s(%.1f)", c.Action, c.Step)
	}
	return string(c.Action)
}
