// Package transport defines the wire-level contract between the round
// orchestrator and a client executor: task messages carrying
// a mixed plaintext/ciphertext payload, and the outcome codes an executor
// replies with.
//
// This package models the contract only. The real multi-host FL-framework
// transport (gRPC, message queue, or similar) is an external collaborator
// outside this module's scope — see DESIGN.md for why it is not
// implemented here.
package transport

import "context"

// TaskName identifies which executor handler a Message dispatches to.
type TaskName string

const (
	TaskTrain       TaskName = "train"
	TaskValidate    TaskName = "validate"
	TaskSubmitModel TaskName = "submit_model"
)

// Outcome is the reply status code an executor returns for a dispatched
// task.
type Outcome string

const (
	OutcomeOK                 Outcome = "OK"
	OutcomeTaskAborted        Outcome = "TASK_ABORTED"
	OutcomeTaskUnknown        Outcome = "TASK_UNKNOWN"
	OutcomeExecutionException Outcome = "EXECUTION_EXCEPTION"
)

// Value is a tagged Plain(Tensor) | Cipher(bytes) variant: a payload
// entry is either a dense float tensor or an opaque CKKS ciphertext,
// never both.
type Value struct {
	IsCipher bool
	Data     []float32
	Shape    []int
	Cipher   []byte
}

// PlainValue wraps a dense tensor as a Value.
func PlainValue(shape []int, data []float32) Value {
	return Value{Shape: shape, Data: data}
}

// CipherValue wraps serialized ciphertext bytes as a Value.
func CipherValue(cipher []byte) Value {
	return Value{IsCipher: true, Cipher: cipher}
}

// Payload is the mixed map of string to (float-tensor | bytes) carried by
// both task messages and their replies.
type Payload map[string]Value

// Message is a task dispatched to an executor: a task name plus its
// payload.
type Message struct {
	Task        TaskName
	Payload     Payload
	RoundNumber uint32
}

// Reply is an executor's response to a dispatched Message: an outcome
// code plus a reply payload and free-form metadata.
type Reply struct {
	Outcome Outcome
	Payload Payload
	Meta    map[string]float64
}

// Handler dispatches a Message and returns a Reply. internal/executor.Handler
// implements this interface.
type Handler interface {
	Dispatch(ctx context.Context, msg Message) Reply
}

// Transport delivers a Message to a remote or in-process Handler. A
// direct in-process implementation is provided (see InProcess) for
// single-binary round simulation and tests.
type Transport interface {
	Send(ctx context.Context, client string, msg Message) (Reply, error)
}

// InProcess is a Transport that dispatches directly to locally registered
// Handlers, with no network hop — the single-binary substitute for a real
// multi-host FL-framework transport.
type InProcess struct {
	handlers map[string]Handler
}

// NewInProcess constructs an InProcess transport with no registered
// clients.
func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[string]Handler)}
}

// Register associates a client name with the Handler that will process
// its dispatched messages.
func (t *InProcess) Register(client string, h Handler) {
	t.handlers[client] = h
}

// Send dispatches msg to the Handler registered under client. An unknown
// client name is a configuration error, not a TaskUnknown reply — the
// latter is reserved for an unrecognized TaskName reaching a live
// Handler.
func (t *InProcess) Send(ctx context.Context, client string, msg Message) (Reply, error) {
	h, ok := t.handlers[client]
	if !ok {
		return Reply{}, errUnknownClient(client)
	}
	return h.Dispatch(ctx, msg), nil
}

type errUnknownClient string

func (e errUnknownClient) Error() string {
	return "transport: no handler registered for client " + string(e)
}
