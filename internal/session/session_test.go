package session

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanTransport is an in-memory Transport for driving a session from a
// test.
type chanTransport struct {
	in  chan Message
	out chan Message
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		in:  make(chan Message, 16),
		out: make(chan Message, 64),
	}
}

func (t *chanTransport) Receive() (Message, error) {
	msg, ok := <-t.in
	if !ok {
		return Message{}, io.EOF
	}
	return msg, nil
}

func (t *chanTransport) Send(msg Message) error {
	t.out <- msg
	return nil
}

func (t *chanTransport) sendIn(tt *testing.T, msgType string, data any) {
	tt.Helper()
	raw, err := json.Marshal(data)
	require.NoError(tt, err)
	t.in <- Message{Type: msgType, Timestamp: time.Now(), Data: raw}
}

func (t *chanTransport) nextOut(tt *testing.T) Message {
	tt.Helper()
	select {
	case msg := <-t.out:
		return msg
	case <-time.After(5 * time.Second):
		tt.Fatal("timed out waiting for outgoing message")
		return Message{}
	}
}

func runSession(t *testing.T, s *Session) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return done
}

func TestSessionLifecycle(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)
	s.Register(CommandSpec{
		Name:          "echo",
		Description:   "returns its parameters",
		Interruptible: false,
	}, func(_ *CommandContext, params json.RawMessage) (any, error) {
		var payload map[string]any
		_ = json.Unmarshal(params, &payload)
		return payload, nil
	})

	done := runSession(t, s)

	// The session opens with ready, advertising the command surface.
	ready := transport.nextOut(t)
	assert.Equal(t, TypeReady, ready.Type)
	assert.Equal(t, s.ID(), ready.SessionID)
	var readyData ReadyData
	require.NoError(t, json.Unmarshal(ready.Data, &readyData))
	require.Len(t, readyData.AvailableCommands, 1)
	assert.Equal(t, "echo", readyData.AvailableCommands[0].Name)

	// Ready --(command)--> Busy --(result)--> Ready
	transport.sendIn(t, TypeCommand, CommandData{
		Command:    "echo",
		Parameters: json.RawMessage(`{"x": 1}`),
	})

	busy := transport.nextOut(t)
	assert.Equal(t, TypeBusy, busy.Type)

	result := transport.nextOut(t)
	assert.Equal(t, TypeResult, result.Type)
	var resultData ResultData
	require.NoError(t, json.Unmarshal(result.Data, &resultData))
	assert.Equal(t, "echo", resultData.Command)
	assert.Equal(t, "success", resultData.Status)

	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	// Ready --(terminate)--> end
	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionQueryIsSynchronous(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)
	done := runSession(t, s)

	transport.nextOut(t) // initial ready

	transport.sendIn(t, TypeQuery, QueryData{QueryType: "get_state"})
	reply := transport.nextOut(t)
	assert.Equal(t, TypeReady, reply.Type)

	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionUnknownCommand(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)
	done := runSession(t, s)

	transport.nextOut(t) // initial ready

	transport.sendIn(t, TypeCommand, CommandData{Command: "nosuch"})
	errMsg := transport.nextOut(t)
	assert.Equal(t, TypeError, errMsg.Type)
	var errData ErrorData
	require.NoError(t, json.Unmarshal(errMsg.Data, &errData))
	assert.Equal(t, "UNKNOWN_COMMAND", errData.Error.Code)

	// The session stays alive and ready.
	transport.sendIn(t, TypeQuery, nil)
	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionStopInterruptsCommand(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)

	started := make(chan struct{})
	s.Register(CommandSpec{
		Name:          "long_run",
		Description:   "runs until stopped",
		Interruptible: true,
	}, func(ctx *CommandContext, _ json.RawMessage) (any, error) {
		close(started)
		for !ctx.Stop.Load() {
			time.Sleep(time.Millisecond)
		}
		return map[string]any{"partial": true}, ErrStopped
	})

	done := runSession(t, s)
	transport.nextOut(t) // initial ready

	transport.sendIn(t, TypeCommand, CommandData{Command: "long_run"})
	busy := transport.nextOut(t)
	assert.Equal(t, TypeBusy, busy.Type)
	var busyData BusyData
	require.NoError(t, json.Unmarshal(busy.Data, &busyData))
	assert.True(t, busyData.Interruptible, "interruptibility is advertised in the busy message")

	<-started

	// Busy --(query)--> Busy: synchronous state reply, no interruption.
	transport.sendIn(t, TypeQuery, nil)
	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	// Busy --(stop)--> stopped message once the handler yields.
	transport.sendIn(t, TypeStop, StopData{Reason: "user"})
	stopped := transport.nextOut(t)
	assert.Equal(t, TypeStopped, stopped.Type)
	var stoppedData StoppedData
	require.NoError(t, json.Unmarshal(stopped.Data, &stoppedData))
	assert.Equal(t, "stopped", stoppedData.Status)

	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionRejectsConcurrentCommands(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)

	release := make(chan struct{})
	s.Register(CommandSpec{Name: "slow", Description: "waits"}, func(*CommandContext, json.RawMessage) (any, error) {
		<-release
		return nil, nil
	})

	done := runSession(t, s)
	transport.nextOut(t) // initial ready

	transport.sendIn(t, TypeCommand, CommandData{Command: "slow"})
	assert.Equal(t, TypeBusy, transport.nextOut(t).Type)

	transport.sendIn(t, TypeCommand, CommandData{Command: "slow"})
	errMsg := transport.nextOut(t)
	assert.Equal(t, TypeError, errMsg.Type)
	var errData ErrorData
	require.NoError(t, json.Unmarshal(errMsg.Data, &errData))
	assert.Equal(t, "SESSION_BUSY", errData.Error.Code)

	close(release)
	assert.Equal(t, TypeResult, transport.nextOut(t).Type)
	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionFailedCommandResetsToReady(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)
	s.Register(CommandSpec{Name: "boom", Description: "fails"},
		func(*CommandContext, json.RawMessage) (any, error) {
			return nil, assert.AnError
		})

	done := runSession(t, s)
	transport.nextOut(t) // initial ready

	transport.sendIn(t, TypeCommand, CommandData{Command: "boom"})
	assert.Equal(t, TypeBusy, transport.nextOut(t).Type)

	errMsg := transport.nextOut(t)
	assert.Equal(t, TypeError, errMsg.Type)

	assert.Equal(t, TypeReady, transport.nextOut(t).Type)

	transport.sendIn(t, TypeTerminate, nil)
	require.NoError(t, <-done)
}

func TestSessionEndsOnDeadTransport(t *testing.T) {
	transport := newChanTransport()
	s := New(transport)
	done := runSession(t, s)

	transport.nextOut(t) // initial ready
	close(transport.in)

	assert.ErrorIs(t, <-done, io.EOF)
}
