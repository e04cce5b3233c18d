package metrics

import "time"

// APIMetrics provides observability for the binary API.
//
// Implementations collect request outcomes, dump volume, dropped messages
// and connection lifecycle. It is optional: components given nil use a
// no-op implementation.
type APIMetrics interface {
	// RecordRequest records one handled request.
	//
	// Parameters:
	//   - message: message name (e.g. "abf_policy_add_del")
	//   - status: reply status name, or "dropped" when no reply was sent
	//   - duration: time spent in the handler
	RecordRequest(message string, status string, duration time.Duration)

	// RecordDetails records details messages emitted by one dump.
	RecordDetails(message string, count int)

	// RecordDropped counts a message discarded without a reply.
	//
	// Reasons: "malformed", "unknown_message", "missing_client", "send_failed".
	RecordDropped(reason string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// SetRegistrations updates the number of registered clients.
	SetRegistrations(count int)

	// SetStoreObjects updates the number of live policies or attachments.
	SetStoreObjects(kind string, count int)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed at shutdown
	// because they did not drain in time.
	RecordConnectionForceClosed()
}

// NewNoopAPIMetrics returns an APIMetrics that discards everything.
func NewNoopAPIMetrics() APIMetrics {
	return noopAPIMetrics{}
}

type noopAPIMetrics struct{}

func (noopAPIMetrics) RecordRequest(message string, status string, duration time.Duration) {}
func (noopAPIMetrics) RecordDetails(message string, count int)                             {}
func (noopAPIMetrics) RecordDropped(reason string)                                         {}
func (noopAPIMetrics) SetActiveConnections(count int32)                                    {}
func (noopAPIMetrics) SetRegistrations(count int)                                          {}
func (noopAPIMetrics) SetStoreObjects(kind string, count int)                              {}
func (noopAPIMetrics) RecordConnectionAccepted()                                           {}
func (noopAPIMetrics) RecordConnectionClosed()                                             {}
func (noopAPIMetrics) RecordConnectionForceClosed()                                        {}
