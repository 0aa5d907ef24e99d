package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/formchat/patch"
	"github.com/tbxark/formchat/types"
)

// Session is the mutable record of one in-progress conversation.
//
// Field access is guarded by an internal RWMutex so diagnostics can read a
// session while a turn is running. Turns themselves are serialized with
// LockTurn/UnlockTurn; only the holder of the turn lock mutates a session.
type Session struct {
	ID          string
	CallbackURL string
	CreatedAt   time.Time

	labelset []string
	allowed  map[string]bool

	turnMu sync.Mutex

	mu             sync.RWMutex
	state          types.State
	responses      map[string]string
	fieldToCorrect string
	lastQuestion   string
	history        []*schema.Message
}

// Snapshot is a consistent, detached copy of a session's dialogue state.
type Snapshot struct {
	ID             string            `json:"id"`
	Labelset       []string          `json:"labelset"`
	Responses      map[string]string `json:"responses"`
	State          types.State       `json:"state"`
	FieldToCorrect string            `json:"field_to_correct,omitempty"`
	LastQuestion   string            `json:"last_question,omitempty"`
	Unanswered     []string          `json:"unanswered"`
}

func newSession(id string, labelset []string, callbackURL string) *Session {
	allowed := make(map[string]bool, len(labelset))
	for _, label := range labelset {
		allowed[label] = true
	}
	return &Session{
		ID:          id,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now(),
		labelset:    labelset,
		allowed:     allowed,
		state:       types.StateGreeting,
		responses:   map[string]string{},
	}
}

func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

func (s *Session) Labelset() []string {
	out := make([]string, len(s.labelset))
	copy(out, s.labelset)
	return out
}

func (s *Session) HasLabel(label string) bool {
	return s.allowed[label]
}

func (s *Session) State() types.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(state types.State) {
	s.mu.Lock()
	s.state = state
	if state != types.StateAwaitingCorrectionValue {
		s.fieldToCorrect = ""
	}
	s.mu.Unlock()
}

func (s *Session) Responses() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyResponses(s.responses)
}

// ApplyPatch applies label-scoped RFC 6902 operations to the collected responses.
// Operations on paths outside the labelset are rejected as a whole.
func (s *Session) ApplyPatch(ops []patch.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if err := patch.ValidatePatchOperations(ops, s.allowedPaths()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := patch.ApplyRFC6902(s.responses, ops)
	if err != nil {
		return err
	}
	if updated == nil {
		updated = map[string]string{}
	}
	s.responses = updated
	return nil
}

func (s *Session) FieldToCorrect() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fieldToCorrect
}

// SetFieldToCorrect sets the correction target; an empty label clears it.
func (s *Session) SetFieldToCorrect(label string) error {
	if label != "" && !s.allowed[label] {
		return fmt.Errorf("%w: %q is not a label of session %s", types.ErrInvalidArgument, label, s.ID)
	}
	s.mu.Lock()
	s.fieldToCorrect = label
	s.mu.Unlock()
	return nil
}

func (s *Session) LastQuestion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuestion
}

func (s *Session) SetLastQuestion(label string) {
	s.mu.Lock()
	s.lastQuestion = label
	s.mu.Unlock()
}

func (s *Session) History() []*schema.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) AppendHistory(msgs ...*schema.Message) {
	s.mu.Lock()
	s.history = appendHistory(s.history, msgs...)
	s.mu.Unlock()
}

func (s *Session) Unanswered() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unanswered()
}

// NextLabel returns the first unanswered label in labelset order, or "".
func (s *Session) NextLabel() string {
	unanswered := s.Unanswered()
	if len(unanswered) == 0 {
		return ""
	}
	return unanswered[0]
}

// Summary renders the collected responses in labelset order.
func (s *Session) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.responses) == 0 {
		return "It seems no information has been collected yet."
	}
	parts := []string{"Okay, here's the information I have:"}
	for _, label := range s.labelset {
		if value, ok := s.responses[label]; ok {
			parts = append(parts, fmt.Sprintf("- %s: %s", types.ReadableLabel(label), value))
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:             s.ID,
		Labelset:       s.Labelset(),
		Responses:      copyResponses(s.responses),
		State:          s.state,
		FieldToCorrect: s.fieldToCorrect,
		LastQuestion:   s.lastQuestion,
		Unanswered:     s.unanswered(),
	}
}

func (s *Session) unanswered() []string {
	out := make([]string, 0, len(s.labelset))
	for _, label := range s.labelset {
		if _, ok := s.responses[label]; !ok {
			out = append(out, label)
		}
	}
	return out
}

func (s *Session) allowedPaths() map[string]bool {
	paths := make(map[string]bool, len(s.labelset))
	for _, label := range s.labelset {
		paths[patch.LabelPath(label)] = true
	}
	return paths
}

func copyResponses(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
