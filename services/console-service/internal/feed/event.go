package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studio-ops/console/services/console-service/internal/model"
)

var ErrMalformedEvent = errors.New("malformed change event")

// ChangeEvent is the envelope the remote store pushes for every entity change.
// Entity always carries a full snapshot; delete events need at least the id.
type ChangeEvent struct {
	Op         model.Op         `json:"op"`
	EntityType model.EntityType `json:"entity_type"`
	Entity     json.RawMessage  `json:"entity"`
}

// ParseChangeEvent decodes and validates the envelope. Payload-level problems
// are reported as ErrMalformedEvent so the consumer can drop rather than retry.
func ParseChangeEvent(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !ev.Op.Valid() {
		return ChangeEvent{}, fmt.Errorf("%w: unknown op %q", ErrMalformedEvent, ev.Op)
	}
	if !ev.EntityType.Valid() {
		return ChangeEvent{}, fmt.Errorf("%w: unknown entity type %q", ErrMalformedEvent, ev.EntityType)
	}
	if len(ev.Entity) == 0 {
		return ChangeEvent{}, fmt.Errorf("%w: missing entity payload", ErrMalformedEvent)
	}
	return ev, nil
}

func decodeEntity(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func (ev ChangeEvent) entityID() (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Entity, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("%w: missing entity id", ErrMalformedEvent)
	}
	return probe.ID, nil
}
