package services

// Outcome labels reported to the Recorder
const (
	OutcomeSuccess      = "success"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomeCompensated  = "compensated"
	OutcomeInconsistent = "inconsistent"
)

// Recorder receives domain counters. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ObserveReservation(outcome string)
	ObserveCancellation(outcome string)
	ObserveCompensation(outcome string)
	ObserveDelivery(eventType, handler, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReservation(string)              {}
func (nopRecorder) ObserveCancellation(string)             {}
func (nopRecorder) ObserveCompensation(string)             {}
func (nopRecorder) ObserveDelivery(string, string, string) {}
