package selection

import "sync"

// Action is what the primary control does when triggered.
type Action string

const (
	ActionStart  Action = "START"
	ActionFinish Action = "FINISH"
)

// TripSelection is the driver's current choice of trip plus the action that
// applies to it.
type TripSelection struct {
	TripID string `json:"trip_id"`
	Action Action `json:"action"`
}

// State holds at most one selection and one registered primary-action
// callback. It is an owned value handed to the views and the controller that
// need it, never ambient state.
type State struct {
	mu       sync.Mutex
	selected *TripSelection
	action   func()
}

func NewState() *State {
	return &State{}
}

// Select sets the selection, with toggle semantics: selecting the currently
// selected trip clears it, selecting another trip replaces it outright.
func (s *State) Select(tripID string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil && s.selected.TripID == tripID {
		s.selected = nil
		return
	}
	s.selected = &TripSelection{TripID: tripID, Action: action}
}

func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

func (s *State) Selected() (TripSelection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return TripSelection{}, false
	}
	return *s.selected, true
}

// RegisterAction installs the callback the primary control invokes. Exactly
// one callback is live at a time; the last writer wins.
func (s *State) RegisterAction(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.action = fn
}

// Trigger runs the registered callback. With no callback, or no selection,
// the control is inert and Trigger is a no-op.
func (s *State) Trigger() {
	s.mu.Lock()
	fn := s.action
	selected := s.selected
	s.mu.Unlock()

	if fn == nil || selected == nil {
		return
	}
	fn()
}
