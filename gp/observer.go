package gp

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exchange is one (command, response, elapsed) tuple delivered to every
// registered Observer, in send order (§6, "Observer interface").
type Exchange struct {
	Command  []byte
	Response []byte
	Elapsed  time.Duration
}

// Observer is an effect-free sink invoked after each APDU exchange.
// Observers must not re-enter the secure channel (§9 design note).
type Observer interface {
	OnExchange(Exchange)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Exchange)

func (f ObserverFunc) OnExchange(e Exchange) { f(e) }

// ZerologObserver logs each exchange as a structured zerolog event, the way
// the pack's HSM-facing repo logs request/response pairs: hex-encoded
// payloads, tagged with a per-session correlation id so concurrent sessions
// in one process don't interleave unreadably in the log stream.
type ZerologObserver struct {
	sessionID string
	logger    zerolog.Logger
}

// NewZerologObserver creates an Observer bound to a fresh session id, logged
// through the global zerolog logger.
func NewZerologObserver() *ZerologObserver {
	return &ZerologObserver{sessionID: uuid.NewString(), logger: log.Logger}
}

func (o *ZerologObserver) OnExchange(e Exchange) {
	o.logger.Debug().
		Str("event", "apdu_exchange").
		Str("session_id", o.sessionID).
		Str("command_hex", hex.EncodeToString(e.Command)).
		Str("response_hex", hex.EncodeToString(e.Response)).
		Dur("elapsed", e.Elapsed).
		Msg("secure channel APDU exchange")
}

// observerList is a list of effect-free sinks invoked in registration
// order, matching §9's design note.
type observerList []Observer

func (l observerList) notify(e Exchange) {
	for _, o := range l {
		o.OnExchange(e)
	}
}
