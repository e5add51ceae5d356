// Package notify connects membank to the filesystem around it: it writes
// one JSON event file per rotation outcome for other processes to pick up,
// and watches a notes directory for changes.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventRotationCompleted    = "rotation.completed"
	EventRotationFailed       = "rotation.failed"
	EventRotationSkipped      = "rotation.skipped"
	EventMaintenanceCompleted = "maintenance.completed"
)

// EventSuffix is the extension of event files.
const EventSuffix = ".event"

// Event is the payload written to an event file.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Archive string `json:"archive,omitempty"`
	Message string `json:"message,omitempty"`
	Time    int64  `json:"time"`
}

// EventWriter writes event files to a directory. A nil writer drops every
// event.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events into dir. An empty dir
// returns nil.
func NewEventWriter(dir string) *EventWriter {
	if dir == "" {
		return nil
	}
	return &EventWriter{dir: dir}
}

// Dir returns the events directory.
func (w *EventWriter) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Emit writes evt as a new event file, filling in ID and Time when unset.
// Safe to call concurrently.
func (w *EventWriter) Emit(evt Event) error {
	if w == nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Time == 0 {
		evt.Time = time.Now().UnixNano()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	// Written under a temporary name so readers never see a partial event.
	name := fmt.Sprintf("%d-%s%s", evt.Time, evt.ID, EventSuffix)
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write event: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// ReadEvents returns the events in dir, oldest first.
func ReadEvents(dir string) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []Event
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != EventSuffix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}
