package actions

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
)

var ErrNothingToUndo = errors.New("nothing to undo")

// History is the undo stack of one trip.
type History interface {
	Push(in Intent) error
	// Pop removes and returns the newest intent, or ErrNothingToUndo.
	Pop() (Intent, error)
}

// MemHistory is a bounded in-memory History. The oldest entries fall off
// once the limit is reached.
type MemHistory struct {
	stack []Intent
	limit int
}

func NewMemHistory(limit int) *MemHistory {
	if limit <= 0 {
		limit = constants.DefaultUndoLimit
	}
	return &MemHistory{limit: limit}
}

func (h *MemHistory) Push(in Intent) error {
	h.stack = append(h.stack, in)
	if len(h.stack) > h.limit {
		h.stack = append([]Intent(nil), h.stack[len(h.stack)-h.limit:]...)
	}
	return nil
}

func (h *MemHistory) Pop() (Intent, error) {
	if len(h.stack) == 0 {
		return Intent{}, ErrNothingToUndo
	}
	in := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]
	return in, nil
}

func (h *MemHistory) Len() int { return len(h.stack) }

// Session owns the current snapshot of one trip. Readers call Current
// without locking and always see a complete snapshot; writers are
// serialised.
type Session struct {
	exec    *Executor
	current atomic.Pointer[models.Itinerary]

	mu      sync.Mutex
	history History

	// Commit, when set, persists every new snapshot under the writer lock
	// before it becomes current. An error rejects the change.
	Commit func(it *models.Itinerary) error
}

// NewSession starts a session on it. A nil history keeps undo in memory.
func NewSession(exec *Executor, it *models.Itinerary, history History) *Session {
	if history == nil {
		history = NewMemHistory(0)
	}
	s := &Session{exec: exec, history: history}
	s.current.Store(it)
	return s
}

func (s *Session) Current() *models.Itinerary { return s.current.Load() }

// Apply executes intent against the current snapshot. Rejected intents come
// back as a failed Result; the error is for persistence failures only.
func (s *Session) Apply(intent Intent) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.exec.Execute(intent, s.current.Load())
	if !res.Success || res.Itinerary == nil {
		return res, nil
	}
	if err := s.commit(res.Itinerary); err != nil {
		return Result{}, err
	}
	if res.Undo != nil {
		if err := s.history.Push(*res.Undo); err != nil {
			return res, fmt.Errorf("change saved but undo could not be recorded: %w", err)
		}
	}
	return res, nil
}

// Undo reverts the most recent change. Each undo intent is pinned to the
// version its change produced; once it succeeds the next entry is re-pinned
// to the reverted snapshot, so consecutive undos walk back the whole stack.
// An entry made stale by a change outside the history is dropped, any other
// failure leaves it on the stack.
func (s *Session) Undo() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	top, err := s.history.Pop()
	if errors.Is(err, ErrNothingToUndo) {
		return failure(ErrNothingToUndo, nil), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read undo history: %w", err)
	}

	res := s.exec.Execute(top, s.current.Load())
	if !res.Success {
		if errors.Is(res.Err, ErrStaleItinerary) {
			logger.Warn("Dropping stale undo entry", "intent", top.Type, "slot", top.SlotID, "reason", res.Message)
			return res, nil
		}
		if err := s.history.Push(top); err != nil {
			return res, fmt.Errorf("undo failed and could not be re-queued: %w", err)
		}
		return res, nil
	}
	if err := s.commit(res.Itinerary); err != nil {
		if perr := s.history.Push(top); perr != nil {
			logger.Error("Lost undo entry", "intent", top.Type, "error", perr)
		}
		return Result{}, err
	}

	next, err := s.history.Pop()
	switch {
	case errors.Is(err, ErrNothingToUndo):
	case err != nil:
		return res, fmt.Errorf("undo applied but history could not be updated: %w", err)
	default:
		next.BaseVersion = res.Itinerary.Version
		if err := s.history.Push(next); err != nil {
			return res, fmt.Errorf("undo applied but history could not be updated: %w", err)
		}
	}
	return res, nil
}

func (s *Session) commit(it *models.Itinerary) error {
	if s.Commit != nil {
		if err := s.Commit(it); err != nil {
			return err
		}
	}
	s.current.Store(it)
	return nil
}

// Reset replaces the snapshot, for reloads from storage. History is kept;
// entries the reload made stale are dropped when undone.
func (s *Session) Reset(it *models.Itinerary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(it)
}
