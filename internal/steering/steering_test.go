package steering

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlab/orchestrator/internal/circuitbreaker"
)

func testInbox(t *testing.T) *Inbox {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewInbox(circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t)), zaptest.NewLogger(t))
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"add_source with instruction", Command{Command: CommandAddSource, Instruction: "check arxiv"}, false},
		{"add_source without instruction", Command{Command: CommandAddSource}, true},
		{"exclude_topic with terms", Command{Command: CommandExcludeTopic, Terms: []string{"crypto"}}, false},
		{"exclude_topic empty terms", Command{Command: CommandExcludeTopic}, true},
		{"exclude_topic blank term", Command{Command: CommandExcludeTopic, Terms: []string{"  "}}, true},
		{"change_direction with instruction", Command{Command: CommandChangeDirection, Instruction: "focus on EU"}, false},
		{"continue", Command{Command: CommandContinue}, false},
		{"force_stop", Command{Command: CommandForceStop}, false},
		{"unknown", Command{Command: "pause"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTerminalCommands(t *testing.T) {
	assert.True(t, Command{Command: CommandContinue}.Terminal())
	assert.True(t, Command{Command: CommandForceStop}.Terminal())
	assert.False(t, Command{Command: CommandAddSource}.Terminal())
	assert.False(t, Command{Command: CommandExcludeTopic}.Terminal())
	assert.False(t, Command{Command: CommandChangeDirection}.Terminal())
}

func TestDirectivesAccumulateInOrder(t *testing.T) {
	var d Directives
	d.Apply(Command{Command: CommandAddSource, Instruction: "first"})
	d.Apply(Command{Command: CommandExcludeTopic, Terms: []string{"a", "b"}})
	d.Apply(Command{Command: CommandAddSource, Instruction: "second"})
	d.Apply(Command{Command: CommandChangeDirection, Instruction: "pivot"})

	assert.Equal(t, []string{"first", "second"}, d.AddedSources)
	assert.Equal(t, []string{"a", "b"}, d.ExcludedTopics)
	assert.Equal(t, []string{"pivot"}, d.DirectionChanges)
	assert.False(t, d.ForceStopped)
	assert.False(t, d.Empty())
}

func TestInboxEnqueueDrainPreservesOrder(t *testing.T) {
	inbox := testInbox(t)
	ctx := context.Background()
	sid := uuid.New()

	first := Command{Command: CommandAddSource, UserID: "u1", Instruction: "one", SubmittedAt: time.Now()}
	second := Command{Command: CommandExcludeTopic, UserID: "u1", Terms: []string{"x"}, SubmittedAt: time.Now()}

	require.NoError(t, inbox.Enqueue(ctx, sid, first))
	require.NoError(t, inbox.Enqueue(ctx, sid, second))

	cmds, err := inbox.Drain(ctx, sid)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, CommandAddSource, cmds[0].Command)
	assert.Equal(t, "one", cmds[0].Instruction)
	assert.Equal(t, CommandExcludeTopic, cmds[1].Command)

	// Drained queue is empty.
	cmds, err = inbox.Drain(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestInboxSessionsAreIsolated(t *testing.T) {
	inbox := testInbox(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, inbox.Enqueue(ctx, a, Command{Command: CommandContinue, UserID: "u1"}))

	cmds, err := inbox.Drain(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	cmds, err = inbox.Drain(ctx, a)
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}
