package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger registers hooks that log every dispatch at debug
// level, undecodable payloads at warn level and handler panics at error
// level.
func RegisterDebugLogger(r *Registry, logger zerolog.Logger) {
	r.OnDispatch(func(event string, _ json.RawMessage, n int) {
		logger.Debug().Str("event", event).Int("handlers", n).Msg("event dispatched")
	})

	r.OnDrop(func(event string, _ json.RawMessage, err error) {
		logger.Warn().Str("event", event).Err(err).Msg("event dropped: bad payload")
	})

	r.OnPanic(func(event string, _ json.RawMessage, recovered any) {
		logger.Error().
			Str("event", event).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}
