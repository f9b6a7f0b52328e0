package ir

// State is the persisted record of values the host generated on earlier
// runs, so a restarted application sees the same passwords.
type State struct {
	Version    int               `pkl:"version"`
	Serial     int               `pkl:"serial"`
	Lineage    string            `pkl:"lineage"`
	Parameters map[string]string `pkl:"parameters"`
}

// NewState returns an empty first-version state.
func NewState() *State {
	return &State{Version: 1, Parameters: map[string]string{}}
}
