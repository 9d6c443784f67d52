package memorystore

import (
	"fmt"

	"github.com/agentic-qe/fleet/types"
)

// eventKey derives a stable per-event key for the append-only events
// partition: source/type/seq is unique because seq is assigned once per
// publication.
func eventKey(event types.Event) string {
	return fmt.Sprintf("%s/%s/%d", event.Source, event.Type, event.Seq)
}
