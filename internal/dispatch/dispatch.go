// Package dispatch hands decoded events to asynchronous post-processing.
//
// A Dispatcher only enqueues. It never waits for the task to run, so the
// relay can commit an offset before the work it triggered has started.
package dispatch

import (
	"context"

	"eventstream/internal/logging"
	"eventstream/internal/protocol"
)

// TaskName identifies post-process work on the queue.
const TaskName = "post_process_group"

// Task holds the keyword arguments of one post-process call.
type Task struct {
	Event                 protocol.EventRecord `json:"event"`
	PrimaryHash           string               `json:"primary_hash"`
	IsNew                 bool                 `json:"is_new"`
	IsSample              bool                 `json:"is_sample"`
	IsRegression          bool                 `json:"is_regression"`
	IsNewGroupEnvironment bool                 `json:"is_new_group_environment"`
}

func NewTask(env protocol.Envelope) Task {
	return Task{
		Event:                 env.Event,
		PrimaryHash:           env.Event.PrimaryHash,
		IsNew:                 env.State.IsNew,
		IsSample:              env.State.IsSample,
		IsRegression:          env.State.IsRegression,
		IsNewGroupEnvironment: env.State.IsNewGroupEnvironment,
	}
}

type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, t Task) error

func (f Func) Dispatch(ctx context.Context, t Task) error { return f(ctx, t) }

// Log only records the task; used when no queue is configured.
type Log struct{}

func (Log) Dispatch(_ context.Context, t Task) error {
	logging.L().Info("post-process task",
		"project_id", t.Event.ProjectID,
		"event_id", t.Event.EventID,
		"group_id", t.Event.GroupID,
		"is_new", t.IsNew)
	return nil
}
