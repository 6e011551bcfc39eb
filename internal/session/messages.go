// Package session defines the engine side of the frontend protocol: a
// request/response stream of JSON messages over a pluggable transport,
// driven by a two-state Ready/Busy machine. The framing (line-delimited
// JSON on stdio) lives behind the Transport interface and is supplied by
// the embedding binary.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the protocol envelope. Every message, in either direction,
// carries a type, a timestamp and the session id. `session_id` is the
// canonical wire name.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

// Outgoing message types (engine -> frontend).
const (
	TypeReady    = "ready"
	TypeBusy     = "busy"
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeStopped  = "stopped"
	TypeError    = "error"
	TypeLog      = "log"
)

// Incoming message types (frontend -> engine).
const (
	TypeCommand   = "command"
	TypeStop      = "stop"
	TypeQuery     = "query"
	TypeTerminate = "terminate"
)

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// newMessage builds an envelope around a payload.
func newMessage(msgType, sessionID string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Data:      raw,
	}, nil
}

// ParameterSpec describes one parameter of an advertised command.
type ParameterSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// CommandSpec describes one command the session can execute.
type CommandSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters"`
	// Interruptible reports whether a stop message can interrupt the
	// command cooperatively.
	Interruptible bool `json:"interruptible"`
}

// StateInfo is the engine state advertised in ready messages.
type StateInfo struct {
	ModelLoaded    bool    `json:"model_loaded"`
	DataLoaded     bool    `json:"data_loaded"`
	LastSimulation *string `json:"last_simulation,omitempty"`
}

// ReadyData is the payload of a ready message.
type ReadyData struct {
	Status            string        `json:"status"`
	AvailableCommands []CommandSpec `json:"available_commands"`
	CurrentState      StateInfo     `json:"current_state"`
}

// BusyData is the payload of a busy message.
type BusyData struct {
	Status           string    `json:"status"`
	ExecutingCommand string    `json:"executing_command"`
	Interruptible    bool      `json:"interruptible"`
	StartedAt        time.Time `json:"started_at"`
}

// ProgressInfo carries command progress.
type ProgressInfo struct {
	PercentComplete    float64 `json:"percent_complete"`
	CurrentStep        string  `json:"current_step"`
	EstimatedRemaining string  `json:"estimated_remaining,omitempty"`
	Details            any     `json:"details,omitempty"`
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Command  string       `json:"command"`
	Progress ProgressInfo `json:"progress"`
}

// CommandData is the payload of an incoming command message.
type CommandData struct {
	Command    string          `json:"command"`
	Parameters json.RawMessage `json:"parameters"`
}

// StopData is the payload of an incoming stop message.
type StopData struct {
	Reason string `json:"reason,omitempty"`
}

// QueryData is the payload of an incoming query message.
type QueryData struct {
	QueryType  string          `json:"query_type"`
	Parameters json.RawMessage `json:"parameters"`
}

// ResultData is the payload of a result message.
type ResultData struct {
	Command       string `json:"command"`
	Status        string `json:"status"`
	ExecutionTime string `json:"execution_time"`
	Result        any    `json:"result"`
}

// StoppedData is the payload of a stopped message.
type StoppedData struct {
	Command       string `json:"command"`
	Status        string `json:"status"`
	ExecutionTime string `json:"execution_time"`
	PartialResult any    `json:"partial_result,omitempty"`
}

// ErrorInfo describes a protocol or execution error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Command string    `json:"command,omitempty"`
	Error   ErrorInfo `json:"error"`
}

// LogData is the payload of a log message.
type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// NewReadyMessage builds a ready message.
func NewReadyMessage(sessionID string, commands []CommandSpec, state StateInfo) (Message, error) {
	return newMessage(TypeReady, sessionID, ReadyData{
		Status:            "ready",
		AvailableCommands: commands,
		CurrentState:      state,
	})
}

// NewBusyMessage builds a busy message advertising interruptibility.
func NewBusyMessage(sessionID, command string, interruptible bool) (Message, error) {
	return newMessage(TypeBusy, sessionID, BusyData{
		Status:           "busy",
		ExecutingCommand: command,
		Interruptible:    interruptible,
		StartedAt:        time.Now().UTC(),
	})
}

// NewProgressMessage builds a progress message.
func NewProgressMessage(sessionID, command string, progress ProgressInfo) (Message, error) {
	return newMessage(TypeProgress, sessionID, ProgressData{Command: command, Progress: progress})
}

// NewResultMessage builds a success result message.
func NewResultMessage(sessionID, command, executionTime string, result any) (Message, error) {
	return newMessage(TypeResult, sessionID, ResultData{
		Command:       command,
		Status:        "success",
		ExecutionTime: executionTime,
		Result:        result,
	})
}

// NewStoppedMessage builds a stopped message.
func NewStoppedMessage(sessionID, command, executionTime string, partial any) (Message, error) {
	return newMessage(TypeStopped, sessionID, StoppedData{
		Command:       command,
		Status:        "stopped",
		ExecutionTime: executionTime,
		PartialResult: partial,
	})
}

// NewErrorMessage builds an error message.
func NewErrorMessage(sessionID, command, code, message string, details any) (Message, error) {
	return newMessage(TypeError, sessionID, ErrorData{
		Command: command,
		Error:   ErrorInfo{Code: code, Message: message, Details: details},
	})
}

// NewLogMessage builds a log message.
func NewLogMessage(sessionID, level, text string) (Message, error) {
	return newMessage(TypeLog, sessionID, LogData{Level: level, Message: text})
}
