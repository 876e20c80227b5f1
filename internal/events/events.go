// Package events provides EventRecorder implementations. Recording is
// fire-and-forget: failures are logged and never surfaced to the caller.
package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
)

// LogRecorder writes events to the process log. It is the default sink
// when no host telemetry pipeline is wired in.
type LogRecorder struct {
	// Prefix is prepended to every event name, e.g. "onboarding".
	Prefix string
}

// NewLogRecorder creates a log-backed recorder with the given prefix.
func NewLogRecorder(prefix string) *LogRecorder {
	return &LogRecorder{Prefix: prefix}
}

// Record logs the event with a generated id and its properties.
func (r *LogRecorder) Record(_ context.Context, event string, props map[string]any) {
	name := event
	if r.Prefix != "" {
		name = r.Prefix + "_" + event
	}
	payload, err := json.Marshal(props)
	if err != nil {
		log.Printf("event %s (id=%s): unserializable props: %v", name, uuid.NewString(), err)
		return
	}
	log.Printf("event %s (id=%s): %s", name, uuid.NewString(), payload)
}

// NopRecorder discards every event.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(context.Context, string, map[string]any) {}
