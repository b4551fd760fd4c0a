package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
)

func TestParseCommands(t *testing.T) {
	cmds, err := parseCommands([]string{"speed:80", "StepSize:100", "start", "step", "stop"})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Command{
		protocol.ChangeSpeed(80),
		protocol.ChangeStep(100),
		protocol.Start(),
		protocol.Step(),
		protocol.Stop(),
	}, cmds)
}

func TestParseCommandsRejects(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"loadImage"},
		{"speed"},
		{"speed:fast"},
		{"stepsize:101"},
		{"start:1"},
	} {
		_, err := parseCommands(args)
		assert.Error(t, err, "%v", args)
	}
}
