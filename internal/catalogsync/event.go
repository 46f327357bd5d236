// Package catalogsync drops the shared collections snapshot when the
// dataset behind the SPARQL endpoint reports an update on Kafka.
package catalogsync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	OpDatasetUpdated     = "dataset_updated"
	OpCollectionsChanged = "collections_changed"
)

// Event announces a change to the dataset. An empty Endpoint applies to
// every consumer.
type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Endpoint string    `json:"endpoint,omitempty"`
	TS       time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("unsupported event version %d", e.Version)
	}
	switch strings.ToLower(strings.TrimSpace(e.Op)) {
	case OpDatasetUpdated, OpCollectionsChanged:
	default:
		return fmt.Errorf("unsupported op %q", e.Op)
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	return nil
}

// Applies reports whether e concerns endpoint
func (e Event) Applies(endpoint string) bool {
	ep := strings.TrimRight(strings.TrimSpace(e.Endpoint), "/")
	return ep == "" || ep == strings.TrimRight(endpoint, "/")
}
