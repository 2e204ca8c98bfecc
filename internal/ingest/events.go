package ingest

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterflow-core/internal/registry"
)

// Publisher sends ingestion events. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Group event statuses.
const (
	GroupCompleted   = "completed"
	GroupIncomplete  = "incomplete"
	GroupBatchFailed = "batch_failed"
	GroupUnplannable = "unplannable"
)

// GroupEvent describes the outcome of a group or one of its batches.
type GroupEvent struct {
	RunID     string             `json:"run_id"`
	GroupID   string             `json:"group_id"`
	Status    string             `json:"status"`
	Batch     string             `json:"batch,omitempty"`
	Error     string             `json:"error,omitempty"`
	Batches   int                `json:"batches,omitempty"`
	Failed    int                `json:"failed,omitempty"`
	Samples   int                `json:"samples,omitempty"`
	Progress  *registry.Progress `json:"progress,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// ProgressEvent is the retained run progress.
type ProgressEvent struct {
	RunID string `json:"run_id"`
	registry.Progress
	Timestamp time.Time `json:"timestamp"`
}

const eventQoS = 1

func (i *Ingestor) publishGroup(ev GroupEvent) {
	ev.RunID = i.runID
	ev.Timestamp = i.now().UTC()
	i.publish(mqtt.Topics{}.IngestGroup(ev.GroupID), ev, false)
}

func (i *Ingestor) publishProgress(p registry.Progress) {
	i.publish(mqtt.Topics{}.IngestProgress(), ProgressEvent{
		RunID:     i.runID,
		Progress:  p,
		Timestamp: i.now().UTC(),
	}, true)
}

// publish never fails the run; events are best effort.
func (i *Ingestor) publish(topic string, v any, retained bool) {
	if i.publisher == nil || !i.publisher.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		i.logger.Warn("encoding event failed", "topic", topic, "error", err)
		return
	}
	if err := i.publisher.Publish(topic, payload, eventQoS, retained); err != nil {
		i.logger.Warn("publishing event failed", "topic", topic, "error", err)
	}
}
