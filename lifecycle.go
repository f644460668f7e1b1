package amadeus

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSink receives lifecycle CloudEvents emitted by the App and
// PluginRegistry as plugins and the application itself move through
// their lifecycle. This is ambient observability, grounded in the
// teacher's observer_cloudevents.go mechanism for decoupling lifecycle
// notifications from application logic — it never touches a plugin's
// topic subscriptions and is not delivered through the DistributionCenter.
// A nil sink discards every event.
type EventSink func(cloudevents.Event)

// lifecyclePayload is the structured CloudEvent data payload, mirroring
// the teacher's ModuleLifecyclePayload shape.
type lifecyclePayload struct {
	Subject   string    `json:"subject"`
	Name      string    `json:"name"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// newLifecycleEvent builds a CloudEvent for a plugin or application
// lifecycle transition. subject is "module" or "application"; action is
// one of "registered"|"initialized"|"started"|"stopped"|"failed".
func newLifecycleEvent(subject, name, action, detail string) cloudevents.Event {
	now := time.Now()
	payload := lifecyclePayload{
		Subject:   subject,
		Name:      name,
		Action:    action,
		Timestamp: now,
		Detail:    detail,
	}

	evt := cloudevents.NewEvent()
	evt.SetID(uuid.NewString())
	evt.SetSource("amadeus/" + subject)
	evt.SetType("com.amadeus." + subject + ".lifecycle")
	evt.SetTime(now)
	evt.SetSpecVersion(cloudevents.VersionV1)
	_ = evt.SetData(cloudevents.ApplicationJSON, payload)
	// CloudEvents 1.0 §3.1.1 restricts extension names to lower-case
	// alphanumerics, so these stay unseparated, matching the teacher's
	// own convention in observer_cloudevents.go.
	evt.SetExtension("lifecyclesubject", subject)
	evt.SetExtension("lifecycleaction", action)
	evt.SetExtension("lifecyclename", name)
	return evt
}

// emit is a no-op when sink is nil, so callers never need a separate
// nil check at every call site.
func emit(sink EventSink, subject, name, action, detail string) {
	if sink == nil {
		return
	}
	sink(newLifecycleEvent(subject, name, action, detail))
}
