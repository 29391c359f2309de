package pipeline

import (
	"sync"
	"time"

	"github.com/ringsaturn/tzf"

	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

// TimezoneResolver maps a coordinate to the zone observed there.
type TimezoneResolver interface {
	Resolve(p models.Coordinates) (*time.Location, bool)
}

type tzfResolver struct {
	finder tzf.F

	mu    sync.Mutex
	zones map[string]*time.Location
}

// NewTZFResolver loads the bundled timezone polygons.
func NewTZFResolver() (TimezoneResolver, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, err
	}
	return &tzfResolver{finder: f, zones: make(map[string]*time.Location)}, nil
}

func (r *tzfResolver) Resolve(p models.Coordinates) (*time.Location, bool) {
	name := r.finder.GetTimezoneName(p.Lng, p.Lat)
	if name == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.zones[name]; ok {
		return loc, true
	}
	loc, err := utils.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	r.zones[name] = loc
	return loc, true
}
