package messages

import (
	"encoding/json"
	"fmt"
	"time"
)

const TopicFeedSynced = "feed.synced"

// FeedSynced is emitted after a reconciliation cycle has committed its writes
// and logged the request.
type FeedSynced struct {
	CycleID      string    `json:"cycle_id"`
	ResourceType string    `json:"resource_type"`
	RequestedAt  time.Time `json:"requested_at"`

	Fetched int `json:"fetched"`

	UpdatedCarParks int `json:"updated_carparks"`
	NewCarParks     int `json:"new_carparks"`
	UpdatedRates    int `json:"updated_rates,omitempty"`
	NewRates        int `json:"new_rates,omitempty"`
}

// Changed reports whether the cycle wrote anything besides the request log.
func (m FeedSynced) Changed() bool {
	return m.UpdatedCarParks+m.NewCarParks+m.UpdatedRates+m.NewRates > 0
}

// Validate rejects events no consumer can act on.
func (m FeedSynced) Validate() error {
	switch m.ResourceType {
	case "availability", "information":
	case "":
		return fmt.Errorf("resource_type is required")
	default:
		return fmt.Errorf("unknown resource_type %q", m.ResourceType)
	}
	if m.UpdatedCarParks < 0 || m.NewCarParks < 0 || m.UpdatedRates < 0 || m.NewRates < 0 {
		return fmt.Errorf("negative delta count")
	}
	return nil
}

// Encode returns the Kafka key and value for the event. Events are keyed by
// resource type so each resource keeps its order within a partition.
func (m FeedSynced) Encode() (key, value []byte, err error) {
	value, err = json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return []byte(m.ResourceType), value, nil
}
