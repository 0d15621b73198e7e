package models

import "time"

// ============ События жизненного цикла ============

const (
	EventPairSelected = "PAIR_SELECTED"
	EventPairObserved = "PAIR_OBSERVED"
	EventPairOpened   = "PAIR_OPENED"
	EventPairAveraged = "PAIR_AVERAGED"
	EventPairClosed   = "PAIR_CLOSED"
	EventPairErrored  = "PAIR_ERRORED"
	EventCycleSummary = "CYCLE_SUMMARY"
)

// PairEvent представляет исходящее событие жизненного цикла пары.
// Несет снимок пары на момент перехода; доставляется минимум один раз.
type PairEvent struct {
	Type      string    `json:"type"`
	Pair      Pair      `json:"pair"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPairEvent создает событие с текущим временем и копией пары.
func NewPairEvent(eventType string, pair *Pair, message string) PairEvent {
	return PairEvent{
		Type:      eventType,
		Pair:      *pair,
		Message:   message,
		Timestamp: time.Now(),
	}
}
