package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

type FilterConfig struct {
	MinGap       time.Duration `yaml:"min_gap"`
	MaxPerHour   int           `yaml:"max_per_hour"`
	QuietStart   string        `yaml:"quiet_start"` // HH:MM
	QuietEnd     string        `yaml:"quiet_end"`   // HH:MM
	BatchWindow  time.Duration `yaml:"batch_window"`
	DuplicateTTL time.Duration `yaml:"duplicate_ttl"`
	MaxEventAge  time.Duration `yaml:"max_event_age"`
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinGap:       constants.DefaultMinGap,
		MaxPerHour:   constants.DefaultMaxPerHour,
		QuietStart:   constants.DefaultQuietStart,
		QuietEnd:     constants.DefaultQuietEnd,
		BatchWindow:  constants.DefaultBatchWindow,
		DuplicateTTL: constants.DefaultDuplicateTTL,
		MaxEventAge:  constants.DefaultMaxEventAge,
	}
}

// Filter rate-limits what reaches the traveller. Urgent events bypass
// everything except the pre-filter's duplicate check.
type Filter struct {
	mu         sync.Mutex
	cfg        FilterConfig
	quietStart int
	quietEnd   int
	seen       *cache.Cache
	shown      []time.Time
	groups     map[string]time.Time
}

func NewFilter(cfg FilterConfig) (*Filter, error) {
	f := &Filter{groups: make(map[string]time.Time)}
	if err := f.SetConfig(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

// SetConfig swaps thresholds in place. Rate-limit history is kept; the
// duplicate cache is rebuilt when its TTL changes.
func (f *Filter) SetConfig(cfg FilterConfig) error {
	def := DefaultFilterConfig()
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = def.MaxPerHour
	}
	if cfg.DuplicateTTL <= 0 {
		cfg.DuplicateTTL = def.DuplicateTTL
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = def.MaxEventAge
	}
	qs, qe := -1, -1
	if cfg.QuietStart != "" || cfg.QuietEnd != "" {
		var err error
		if qs, err = utils.ParseTimeToMinutes(cfg.QuietStart); err != nil {
			return fmt.Errorf("invalid quiet hours start: %w", err)
		}
		if qe, err = utils.ParseTimeToMinutes(cfg.QuietEnd); err != nil {
			return fmt.Errorf("invalid quiet hours end: %w", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil || cfg.DuplicateTTL != f.cfg.DuplicateTTL {
		f.seen = cache.New(cfg.DuplicateTTL, 2*cfg.DuplicateTTL)
	}
	f.cfg = cfg
	f.quietStart, f.quietEnd = qs, qe
	return nil
}

func (f *Filter) Config() FilterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// PreFilter drops events that are worthless regardless of context.
func (f *Filter) PreFilter(ev models.QueuedEvent, now time.Time) (bool, string) {
	if strings.TrimSpace(ev.Message) == "" {
		return false, "empty message"
	}
	f.mu.Lock()
	maxAge := f.cfg.MaxEventAge
	seen := f.seen
	f.mu.Unlock()

	if ev.Priority != models.PriorityUrgent && !ev.CreatedAt.IsZero() && now.Sub(ev.CreatedAt) > maxAge {
		return false, fmt.Sprintf("event is older than %s", maxAge)
	}
	if err := seen.Add(dedupeKey(ev), struct{}{}, cache.DefaultExpiration); err != nil {
		return false, "duplicate of a recent event"
	}
	return true, ""
}

func dedupeKey(ev models.QueuedEvent) string {
	return string(ev.Type) + "|" + ev.SlotID + "|" + strings.ToLower(strings.TrimSpace(ev.Message))
}

// Apply enforces quiet hours, batching, the minimum gap and the hourly cap
// against the aggregated context.
func (f *Filter) Apply(ev models.QueuedEvent, tc models.TripContext) (bool, string) {
	if ev.Priority == models.PriorityUrgent {
		return true, ""
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.quietStart >= 0 && tc.LocalTime != "" {
		if m, err := utils.ParseTimeToMinutes(tc.LocalTime); err == nil && utils.InWindow(m, f.quietStart, f.quietEnd) {
			return false, fmt.Sprintf("quiet hours (%s-%s %s)", f.cfg.QuietStart, f.cfg.QuietEnd, tc.Timezone)
		}
	}
	now := tc.Now
	if ev.GroupKey != "" && f.cfg.BatchWindow > 0 {
		if last, ok := f.groups[ev.GroupKey]; ok && now.Sub(last) < f.cfg.BatchWindow {
			return false, fmt.Sprintf("batched with a recent %s notification", ev.GroupKey)
		}
	}
	f.prune(now)
	if n := len(f.shown); n > 0 && f.cfg.MinGap > 0 && now.Sub(f.shown[n-1]) < f.cfg.MinGap {
		return false, fmt.Sprintf("less than %s since the last notification", f.cfg.MinGap)
	}
	if len(f.shown) >= f.cfg.MaxPerHour {
		return false, fmt.Sprintf("hourly limit of %d notifications reached", f.cfg.MaxPerHour)
	}
	return true, ""
}

// Record notes a notification that was shown.
func (f *Filter) Record(ev models.QueuedEvent, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, at)
	if ev.GroupKey != "" {
		f.groups[ev.GroupKey] = at
	}
}

func (f *Filter) prune(now time.Time) {
	cut := 0
	for cut < len(f.shown) && now.Sub(f.shown[cut]) >= time.Hour {
		cut++
	}
	f.shown = f.shown[cut:]
	for k, at := range f.groups {
		if now.Sub(at) >= f.cfg.BatchWindow {
			delete(f.groups, k)
		}
	}
}
