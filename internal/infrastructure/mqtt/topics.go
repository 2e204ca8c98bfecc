package mqtt

import "fmt"

// Topic prefixes for meterflow MQTT topics.
const (
	// TopicPrefix is the base for all meterflow topics.
	TopicPrefix = "meterflow"

	// TopicPrefixSystem is the base for process status topics.
	TopicPrefixSystem = TopicPrefix + "/system"

	// TopicPrefixIngest is the base for ingestion topics.
	TopicPrefixIngest = TopicPrefix + "/ingest"
)

// Topics provides builders for meterflow MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.IngestGroup("T0042")
//	// Returns: "meterflow/ingest/group/T0042"
type Topics struct{}

// SystemStatus returns the process status topic.
//
// Example: meterflow/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// IngestProgress returns the run progress topic.
//
// Example: meterflow/ingest/progress
func (Topics) IngestProgress() string {
	return fmt.Sprintf("%s/progress", TopicPrefixIngest)
}

// IngestGroup returns the event topic of one ingestion group.
//
// Example: meterflow/ingest/group/T0042
func (Topics) IngestGroup(groupID string) string {
	return fmt.Sprintf("%s/group/%s", TopicPrefixIngest, groupID)
}

// AllIngestGroups returns a pattern matching every group event topic.
//
// Pattern: meterflow/ingest/group/+
func (Topics) AllIngestGroups() string {
	return fmt.Sprintf("%s/group/+", TopicPrefixIngest)
}
