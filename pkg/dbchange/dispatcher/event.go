package dispatcher

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/engine"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// EventType tells what a worker event carries.
type EventType string

const (
	EventHeartbeat EventType = "HEARTBEAT"
	EventProgress  EventType = "PROGRESS"
	// EventResult is the last event of a worker.
	EventResult EventType = "RESULT"
)

// Event is one message from a worker to its dispatcher.
// In PROCESS mode events travel as JSON lines on the worker's stdout.
type Event struct {
	Type     EventType        `json:"type"`
	JobID    string           `json:"jobId,omitempty"`
	Time     time.Time        `json:"time"`
	Progress *engine.Progress `json:"progress,omitempty"`
	Result   *model.JobResult `json:"result,omitempty"`
}

// maxEventLine bounds one JSON line read from a worker.
const maxEventLine = 1 << 20

// EventWriter writes events as JSON lines. It is safe for concurrent use.
type EventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEventWriter creates an EventWriter on w.
func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{enc: json.NewEncoder(w)}
}

// Write encodes ev as one line.
func (w *EventWriter) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(ev)
}

// ReadEvents decodes JSON lines from r until EOF and passes each event to fn.
// Lines that are not events are logged and skipped.
func ReadEvents(r io.Reader, fn func(Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			logger.Debugf("Ignoring non-event worker output: %s", string(line))
			continue
		}
		fn(ev)
	}
	return sc.Err()
}
