package events

import (
	"encoding/json"
	"fmt"
)

// SubscribeJSON registers fn for event, decoding each payload into T.
// Payloads that do not decode are skipped and reported to OnDrop hooks.
func SubscribeJSON[T any](r *Registry, event string, fn func(T)) Subscription {
	return r.Subscribe(event, func(payload json.RawMessage) {
		var v T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				r.runOnDrop(event, payload, fmt.Errorf("decoding %s payload: %w", event, err))
				return
			}
		}
		fn(v)
	})
}
