package dashboard

import (
	"encoding/json"
	"sync"
)

// initialState is what GET /api/status returns before the first update.
var initialState = map[string]json.RawMessage{
	"timestamp":   json.RawMessage("null"),
	"nifty_ltp":   json.RawMessage("null"),
	"legs":        json.RawMessage("{}"),
	"net_credit":  json.RawMessage("null"),
	"pnl":         json.RawMessage("null"),
	"logs":        json.RawMessage("[]"),
	"exit_reason": json.RawMessage("null"),
}

// State is the latest status merged from pushes. Top-level keys of an update
// replace the stored ones; keys the update does not name are kept.
type State struct {
	mu     sync.RWMutex
	fields map[string]json.RawMessage
}

// NewState returns the initial state.
func NewState() *State {
	fields := make(map[string]json.RawMessage, len(initialState))
	for k, v := range initialState {
		fields[k] = v
	}
	return &State{fields: fields}
}

// Merge applies patch and returns the merged document.
func (s *State) Merge(patch map[string]json.RawMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range patch {
		s.fields[k] = append(json.RawMessage(nil), v...)
	}
	return json.Marshal(s.fields)
}

// JSON returns the current document.
func (s *State) JSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.fields)
}
