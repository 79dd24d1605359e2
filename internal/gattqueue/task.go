package gattqueue

import (
	"fmt"
	"time"
)

// Kind is the GATT operation a task performs.
type Kind int

const (
	ReadCharacteristic Kind = iota
	WriteCharacteristic
	WriteDescriptor
)

// String returns the operation name used in logs.
func (k Kind) String() string {
	switch k {
	case ReadCharacteristic:
		return "read_characteristic"
	case WriteCharacteristic:
		return "write_characteristic"
	case WriteDescriptor:
		return "write_descriptor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Completion is invoked by a Link when the remote side answered an operation.
// It may be called from any goroutine, at most once per issued operation.
type Completion func(value []byte, err error)

// Link is a live GATT connection able to issue one operation at a time.
// Issuing returns as soon as the request is handed to the stack; the result
// arrives later through the Completion. An error from the issuing call itself
// means the request never left.
type Link interface {
	ReadCharacteristic(charID string, done Completion) error
	WriteCharacteristic(charID string, payload []byte, done Completion) error
	WriteDescriptor(serviceID, charID, descriptorID string, payload []byte, done Completion) error
}

// PushListener is told how a task ended. Exactly one method is called per task.
type PushListener interface {
	OnPushSuccess()
	OnPushFailure()
}

// ListenerFuncs adapts plain functions to PushListener. Nil fields are skipped.
type ListenerFuncs struct {
	Success func()
	Failure func()
}

func (l ListenerFuncs) OnPushSuccess() {
	if l.Success != nil {
		l.Success()
	}
}

func (l ListenerFuncs) OnPushFailure() {
	if l.Failure != nil {
		l.Failure()
	}
}

// Task is one queued GATT operation.
type Task struct {
	Link             Link
	Kind             Kind
	Address          string // informational, carried into logs and outcomes
	ServiceID        string // descriptor writes only
	CharacteristicID string
	DescriptorID     string // descriptor writes only
	Payload          []byte // writes only
	Listener         PushListener

	seq uint64
}

// Target returns the identifier of the attribute the task operates on.
func (t *Task) Target() string {
	if t.Kind == WriteDescriptor {
		return t.DescriptorID
	}
	return t.CharacteristicID
}

// Outcome is the result of executing a task.
type Outcome struct {
	Task    *Task
	Value   []byte // read value, if any
	Err     error
	Elapsed time.Duration
}

// OK reports whether the task succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}
