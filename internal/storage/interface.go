// Package storage persists itinerary versions, execution records, the
// transition log and the undo log behind a backend-neutral Provider.
package storage

import (
	"errors"
	"time"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/models"
)

var ErrNotFound = errors.New("not found")

// TripSummary describes the latest stored version of a trip.
type TripSummary struct {
	TripID    string
	Title     string
	Version   int
	Days      int
	UpdatedAt time.Time
}

type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error

	// Itineraries. Every save writes a version row; reads return the
	// newest version unless one is named.
	SaveItinerary(it *models.Itinerary) error
	GetItinerary(tripID string) (*models.Itinerary, error)
	GetItineraryVersion(tripID string, version int) (*models.Itinerary, error)
	ListTrips() ([]TripSummary, error)
	DeleteItinerary(tripID string) error

	// Execution records, one per trip
	SaveExecutionRecord(rec models.ExecutionRecord) error
	GetExecutionRecord(tripID string) (models.ExecutionRecord, error)
	DeleteExecutionRecord(tripID string) error

	// Transition log
	AppendTransition(tripID string, t models.Transition) error
	GetTransitions(tripID string, dayIndex int) ([]models.Transition, error)

	// Undo log, newest first on pop
	PushUndo(tripID string, in actions.Intent) error
	PopUndo(tripID string) (actions.Intent, error)

	// Utils
	GetConfigPath() string
}
