package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"kalix/pkg/logger"
	"kalix/pkg/metrics"
)

// Transport moves protocol messages between the engine and a frontend.
// The concrete framing (line-delimited JSON over stdio) is supplied by
// the embedding binary; the session only sees whole messages.
type Transport interface {
	// Receive blocks until the next incoming message. io.EOF (or any
	// error) ends the session.
	Receive() (Message, error)
	// Send delivers one outgoing message.
	Send(Message) error
}

// CommandContext is handed to command handlers so long-running commands
// can report progress and observe stop requests cooperatively.
type CommandContext struct {
	// Stop flips when the frontend sent a stop message. Interruptible
	// handlers poll it and return early with ErrStopped.
	Stop *atomic.Bool

	// Progress emits a progress message for the running command.
	Progress func(ProgressInfo)
}

// ErrStopped is returned by a handler that honoured a stop request; the
// session then replies with a stopped message instead of a result.
var ErrStopped = errors.New("stopped")

// Handler executes one command. The returned value becomes the result
// payload.
type Handler func(ctx *CommandContext, params json.RawMessage) (any, error)

type registeredCommand struct {
	spec    CommandSpec
	handler Handler
}

// Session is the engine side of the protocol: a two-state machine.
//
//	Ready --(command)--> Busy --(result|stopped|error)--> Ready
//	Ready --(query)----> Ready        (synchronous)
//	Ready --(terminate)--> end
//	Busy  --(stop)-----> Busy         (may hasten interruption, no reply)
//	Busy  --(query)----> Busy         (synchronous state reply)
//	Busy  --(terminate)--> end
type Session struct {
	id        string
	transport Transport
	commands  map[string]registeredCommand
	order     []string
	state     StateInfo

	incoming chan Message
	recvErr  chan error
}

// New creates a session over a transport with a fresh id.
func New(transport Transport) *Session {
	return &Session{
		id:        NewSessionID(),
		transport: transport,
		commands:  make(map[string]registeredCommand),
		incoming:  make(chan Message),
		recvErr:   make(chan error, 1),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State exposes the advertised engine state for mutation by command
// handlers (model loaded, data loaded, last simulation).
func (s *Session) State() *StateInfo {
	return &s.state
}

// Register adds a command to the session's surface.
func (s *Session) Register(spec CommandSpec, handler Handler) {
	if _, exists := s.commands[spec.Name]; !exists {
		s.order = append(s.order, spec.Name)
	}
	s.commands[spec.Name] = registeredCommand{spec: spec, handler: handler}
}

func (s *Session) specs() []CommandSpec {
	specs := make([]CommandSpec, 0, len(s.order))
	for _, name := range s.order {
		specs = append(specs, s.commands[name].spec)
	}
	return specs
}

// commandOutcome carries a finished command back to the session loop.
type commandOutcome struct {
	command string
	started time.Time
	result  any
	err     error
}

// Run drives the session until terminate or a dead transport. Protocol
// and execution errors produce error messages and reset to ready; a
// failure to send any other message is logged. The loop ends on
// terminate, on a receive failure, or when a ready message cannot be
// sent.
func (s *Session) Run() error {
	if err := s.sendReady(); err != nil {
		return err
	}

	// A single pump goroutine owns Receive so the loop can wait on
	// incoming messages and command completion at the same time.
	go s.receivePump()

	for {
		select {
		case err := <-s.recvErr:
			return err

		case msg := <-s.incoming:
			switch msg.Type {
			case TypeTerminate:
				return nil

			case TypeQuery:
				s.sendStateReply()

			case TypeStop:
				// Nothing is running; stop in the ready state is a no-op.

			case TypeCommand:
				terminate, err := s.executeCommand(msg)
				if err != nil {
					return err
				}
				if terminate {
					return nil
				}
				if err := s.sendReady(); err != nil {
					return err
				}

			default:
				s.sendError("", "BAD_MESSAGE",
					fmt.Sprintf("unexpected message type '%s'", msg.Type))
			}
		}
	}
}

func (s *Session) receivePump() {
	for {
		msg, err := s.transport.Receive()
		if err != nil {
			s.recvErr <- err
			return
		}
		metrics.Get().RecordSessionMessage("in", msg.Type)
		s.incoming <- msg
	}
}

// executeCommand runs one command to completion while continuing to
// serve stop/query/terminate. It reports whether the session should
// terminate, and returns an error only when the transport died.
func (s *Session) executeCommand(msg Message) (terminate bool, err error) {
	var cmd CommandData
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.sendError("", "BAD_MESSAGE", fmt.Sprintf("malformed command payload: %v", err))
		return false, nil
	}

	registered, ok := s.commands[cmd.Command]
	if !ok {
		s.sendError(cmd.Command, "UNKNOWN_COMMAND",
			fmt.Sprintf("unknown command '%s'", cmd.Command))
		return false, nil
	}

	s.send(NewBusyMessage(s.id, cmd.Command, registered.spec.Interruptible))

	var stop atomic.Bool
	ctx := &CommandContext{
		Stop: &stop,
		Progress: func(p ProgressInfo) {
			s.send(NewProgressMessage(s.id, cmd.Command, p))
		},
	}

	started := time.Now()
	done := make(chan commandOutcome, 1)
	go func() {
		result, err := registered.handler(ctx, cmd.Parameters)
		done <- commandOutcome{command: cmd.Command, started: started, result: result, err: err}
	}()

	for {
		select {
		case outcome := <-done:
			s.finishCommand(outcome)
			return false, nil

		case recvErr := <-s.recvErr:
			// The transport is dead; let the in-flight command finish,
			// then surface the receive error.
			stop.Store(true)
			outcome := <-done
			s.finishCommand(outcome)
			return false, recvErr

		case incoming := <-s.incoming:
			switch incoming.Type {
			case TypeStop:
				// May hasten interruption; no reply. The command keeps
				// running until it observes the flag.
				stop.Store(true)

			case TypeQuery:
				// Synchronous state reply; does not interrupt.
				s.sendStateReply()

			case TypeTerminate:
				stop.Store(true)
				<-done
				return true, nil

			case TypeCommand:
				s.sendError("", "SESSION_BUSY", "a command is already executing")

			default:
				s.sendError("", "BAD_MESSAGE",
					fmt.Sprintf("unexpected message type '%s'", incoming.Type))
			}
		}
	}
}

func (s *Session) finishCommand(outcome commandOutcome) {
	elapsed := time.Since(outcome.started).String()
	switch {
	case outcome.err == nil:
		s.send(NewResultMessage(s.id, outcome.command, elapsed, outcome.result))
	case errors.Is(outcome.err, ErrStopped):
		s.send(NewStoppedMessage(s.id, outcome.command, elapsed, outcome.result))
	default:
		logger.WithSession(s.id).Error("command failed",
			"command", outcome.command, "error", outcome.err)
		s.sendError(outcome.command, "EXECUTION_FAILED", outcome.err.Error())
	}
}

func (s *Session) sendReady() error {
	msg, err := NewReadyMessage(s.id, s.specs(), s.state)
	if err != nil {
		return err
	}
	metrics.Get().RecordSessionMessage("out", msg.Type)
	return s.transport.Send(msg)
}

func (s *Session) sendStateReply() {
	s.send(NewReadyMessage(s.id, s.specs(), s.state))
}

func (s *Session) sendError(command, code, text string) {
	s.send(NewErrorMessage(s.id, command, code, text, nil))
}

// send delivers a prepared message, logging delivery problems instead
// of failing the session loop.
func (s *Session) send(msg Message, err error) {
	if err != nil {
		logger.WithSession(s.id).Error("failed to build message", "error", err)
		return
	}
	metrics.Get().RecordSessionMessage("out", msg.Type)
	if err := s.transport.Send(msg); err != nil {
		logger.WithSession(s.id).Error("failed to send message", "type", msg.Type, "error", err)
	}
}
