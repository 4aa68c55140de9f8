package outbox

// Event is the envelope written to the outbox table inside the same transaction
// as the entity write. The publisher relays it onto the change-feed topic, which
// is how the console's own writes re-enter through the reconciler.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
