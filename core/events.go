package core

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind names an outbound notification type. Kept as a plain string
// (not an enum) so a downstream adapter can route on it without
// importing core's enum types.
type EventKind string

const (
	EventParticipantRegistered EventKind = "participant_registered"
	EventMeterAssigned         EventKind = "meter_assigned"
	EventOrderSubmitted        EventKind = "order_submitted"
	EventOrderCancelled        EventKind = "order_cancelled"
	EventTradeExecuted         EventKind = "trade_executed"
	EventEpochCleared          EventKind = "epoch_cleared"
	EventRECIssued             EventKind = "rec_issued"
	EventRECRetired            EventKind = "rec_retired"
	EventOracleRequestCreated  EventKind = "oracle_request_created"
	EventOracleRequestFulfilled EventKind = "oracle_request_fulfilled"
	EventOracleRequestExpired  EventKind = "oracle_request_expired"
)

// Event is a single outbound notification. Fields is a flat map so sinks
// don't need to know every event's concrete payload shape.
type Event struct {
	Kind   EventKind
	At     time.Time
	Fields map[string]any
}

// Sink is the outbound event-emission contract. It must never block the
// caller for long nor return an error the caller is expected to act on —
// event delivery is best-effort.
type Sink interface {
	Emit(Event)
}

// LogSink emits every event as a structured logrus line.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink wraps a *logrus.Logger. Pass nil to use logrus's default
// singleton logger.
func NewLogSink(lg *logrus.Logger) *LogSink {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &LogSink{log: lg.WithField("component", "events")}
}

func (s *LogSink) Emit(e Event) {
	s.log.WithFields(logrus.Fields(e.Fields)).WithField("at", e.At).Info(string(e.Kind))
}

// ChanSink buffers events on a channel for an external adapter (HTTP/
// websocket, out of scope here) to drain. Events are dropped, never
// blocked on, once the buffer is full — a slow external consumer must
// never stall the settlement path.
type ChanSink struct {
	ch chan Event
}

// NewChanSink allocates a ChanSink with the given buffer capacity.
func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{ch: make(chan Event, capacity)}
}

func (s *ChanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Events exposes the receive-only channel for a drain loop.
func (s *ChanSink) Events() <-chan Event { return s.ch }

// multiSink fans a single Emit out to several sinks, e.g. a LogSink plus a
// ChanSink; a caller builds one with NewMultiSink and hands it to
// NewEngine as its single Sink.
type multiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one Sink.
func NewMultiSink(sinks ...Sink) Sink { return &multiSink{sinks: sinks} }

func (m *multiSink) Emit(e Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}
