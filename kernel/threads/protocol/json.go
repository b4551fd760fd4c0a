package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON form used by the websocket viewer:
//
//	{"action":"changeSpeed","payload":{"newSpeedPercentage":40}}
type wireCommand struct {
	Action  Action       `json:"action"`
	Payload *wirePayload `json:"payload,omitempty"`
}

type wirePayload struct {
	NewSpeedPercentage *float64 `json:"newSpeedPercentage,omitempty"`
	NewStepPercentage  *float64 `json:"newStepPercentage,omitempty"`
}

// DecodeJSON parses a command. An unrecognised action decodes without
// error; callers drop it by checking Action.Known.
func DecodeJSON(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	cmd := Command{Action: w.Action}
	switch w.Action {
	case ActionChangeSpeed:
		if w.Payload == nil || w.Payload.NewSpeedPercentage == nil {
			return Command{}, fmt.Errorf("%w: %s needs newSpeedPercentage", ErrMissingPayload, w.Action)
		}
		cmd.Speed = *w.Payload.NewSpeedPercentage
	case ActionChangeStep:
		if w.Payload == nil || w.Payload.NewStepPercentage == nil {
			return Command{}, fmt.Errorf("%w: %s needs newStepPercentage", ErrMissingPayload, w.Action)
		}
		cmd.Step = *w.Payload.NewStepPercentage
	}
	return cmd, nil
}

// EncodeJSON renders a command. Surface is never encoded.
func EncodeJSON(cmd Command) ([]byte, error) {
	w := wireCommand{Action: cmd.Action}
	switch cmd.Action {
	case ActionChangeSpeed:
		v := cmd.Speed
		w.Payload = &wirePayload{NewSpeedPercentage: &v}
	case ActionChangeStep:
		v := cmd.Step
		w.Payload = &wirePayload{NewStepPercentage: &v}
	}
	return json.Marshal(w)
}
