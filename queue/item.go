package queue

import (
	"encoding/json"
	"time"
)

// Item is one unit of deferred work. Its identity in the pending and
// processing sets is its fully serialized JSON form, so two structurally
// identical payloads enqueued at different instants remain distinct members.
// Legitimately repeated jobs are never accidentally de-duplicated.
type Item struct {
	// Payload is the opaque structured data; its "type" field selects the
	// handler on the consumer side.
	Payload json.RawMessage `json:"payload"`

	// EnqueuedAt is set at creation and never changes.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Priority ranks the item; lower value is more urgent, 0 is most
	// urgent. Caller-supplied, immutable.
	Priority int `json:"priority"`

	// Attempts counts stale-recovery requeues. It starts at 0, only ever
	// grows, and is capped by the queue's retry limit.
	Attempts int `json:"attempts"`

	// raw is the serialized member form this item was dequeued as.
	raw string
}

// Decode unmarshals the item's payload into dest.
func (it *Item) Decode(dest any) error {
	return json.Unmarshal(it.Payload, dest)
}

// prioritySpan separates priority classes in the score space. It exceeds
// any unix-seconds timestamp this century, so the time component can never
// promote an item across classes.
const prioritySpan = 1e10

// score ranks an item for the pending set: lower priority value sorts
// first, and within a priority class earlier timestamps sort first.
func score(priority int, at time.Time) float64 {
	return float64(priority)*prioritySpan + float64(at.UnixMilli())/1e3
}
