package cli

import (
	"errors"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
)

// storeHistory keeps a trip's undo stack in the store's undo log.
type storeHistory struct {
	store  storage.Provider
	tripID string
}

func (h storeHistory) Push(in actions.Intent) error {
	return h.store.PushUndo(h.tripID, in)
}

func (h storeHistory) Pop() (actions.Intent, error) {
	in, err := h.store.PopUndo(h.tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return actions.Intent{}, actions.ErrNothingToUndo
	}
	return in, err
}

// Session opens an edit session on the newest version of tripID. Every
// change is backed up and stored as a new version, and undo history lives
// in the undo log so it survives between commands.
func (c *Context) Session(tripID string) (*actions.Session, error) {
	it, err := c.LoadTrip(tripID)
	if err != nil {
		return nil, err
	}
	s := actions.NewSession(c.Executor(), it, storeHistory{store: c.Store, tripID: tripID})
	s.Commit = func(next *models.Itinerary) error {
		c.PerformAutomaticBackup()
		return c.Store.SaveItinerary(next)
	}
	return s, nil
}
