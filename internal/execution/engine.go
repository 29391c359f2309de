// Package execution runs one trip day as a live process against a simulated clock.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julianstephens/wayfare/internal/confidence"
	"github.com/julianstephens/wayfare/internal/constants"
	apperrors "github.com/julianstephens/wayfare/internal/errors"
	"github.com/julianstephens/wayfare/internal/geo"
	"github.com/julianstephens/wayfare/internal/lifecycle"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

var (
	ErrNotStarted       = errors.New("no day is being executed")
	ErrSlotNotInDay     = errors.New("slot is not in the current day")
	ErrDayOutOfRange    = errors.New("day index out of range")
	ErrInvalidExtension = errors.New("extension must be a positive number of minutes")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

type Config struct {
	// PendingLead is how long before its scheduled start the focus slot turns pending.
	PendingLead    time.Duration
	Multiplier     float64
	Geofence       geo.Options
	Location       *time.Location
	PromptCooldown time.Duration
	// RealNow supplies wall-clock time; defaults to time.Now.
	RealNow func() time.Time
}

func DefaultConfig() Config {
	return Config{
		PendingLead:    constants.DefaultPendingLeadMin * time.Minute,
		Multiplier:     constants.DefaultTimeMultiplier,
		Geofence:       geo.Options{LoiterDelay: constants.DefaultLoiterDelay, DwellAfter: constants.DefaultDwellAfter},
		Location:       time.Local,
		PromptCooldown: constants.DefaultPromptCooldownMin * time.Minute,
		RealNow:        time.Now,
	}
}

// Evidence is passive completion evidence reported from outside the engine.
type Evidence struct {
	Leaving bool // the user said they are leaving
	Payment bool
	Photo   bool
}

type slotSignals struct {
	leftFence   bool
	arrivedNext bool
	evidence    Evidence
}

// Engine owns the execution state of one trip day. Every mutation is
// serialised by a single mutex; readers get snapshots.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	bus     *Bus
	version atomic.Uint64

	clock       *Clock
	itinerary   *models.Itinerary
	tripID      string
	day         models.Day
	machine     *lifecycle.Machine
	fences      *geo.Evaluator
	running     bool
	pauseReason string
	location    *models.Coordinates
	locked      map[string]bool
	delayMin    int
	focus       string

	signals  map[string]*slotSignals
	prompted map[string]time.Time
	// batch collects the transitions made during one Tick.
	batch      []models.Transition
	collecting bool
}

func New(cfg Config) *Engine {
	if cfg.RealNow == nil {
		cfg.RealNow = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = constants.DefaultTimeMultiplier
	}
	return &Engine{cfg: cfg, bus: NewBus()}
}

// Subscribe returns a stream of engine notices and a cancel function.
func (e *Engine) Subscribe(buffer int) (<-chan Notice, func()) {
	return e.bus.Subscribe(buffer)
}

// Version increases on every state change. Work computed against an older
// version is stale.
func (e *Engine) Version() uint64 { return e.version.Load() }

// Start begins executing a day with the simulated clock at the current real time.
func (e *Engine) Start(tripID string, it *models.Itinerary, dayIndex int) (models.ExecutionState, error) {
	return e.StartAt(tripID, it, dayIndex, e.cfg.RealNow())
}

// StartAt begins executing a day with the simulated clock set to at. One
// execution is created per slot; the first slot becomes pending.
func (e *Engine) StartAt(tripID string, it *models.Itinerary, dayIndex int, at time.Time) (state models.ExecutionState, err error) {
	defer apperrors.Recover(&err, "engine.Start")
	e.mu.Lock()
	defer e.mu.Unlock()

	if it == nil {
		return models.ExecutionState{}, fmt.Errorf("no itinerary to execute")
	}
	if !it.HasDay(dayIndex) {
		return models.ExecutionState{}, fmt.Errorf("%w: %d (trip has %d days)", ErrDayOutOfRange, dayIndex, len(it.Days))
	}
	day := it.Days[dayIndex]
	execs, err := e.buildExecutions(day, at)
	if err != nil {
		return models.ExecutionState{}, err
	}

	if tripID == "" {
		tripID = it.TripID
	}
	e.reset(tripID, it, day)
	e.clock = NewClock(at, e.cfg.Multiplier, e.cfg.RealNow)
	e.machine = lifecycle.New(dayIndex, execs)

	if order := e.machine.Order(); len(order) > 0 {
		e.focus = order[0]
		e.fire(e.focus, models.StatePending, models.TriggerFocus)
	}
	e.bump()
	logger.Info("Started day", "trip", tripID, "day", dayIndex, "slots", len(execs), "at", at.Format(time.RFC3339))
	return e.snapshotLocked(), nil
}

func (e *Engine) reset(tripID string, it *models.Itinerary, day models.Day) {
	e.tripID = tripID
	e.itinerary = it
	e.day = day
	e.fences = geo.NewEvaluator(geo.ForDay(day), e.cfg.Geofence)
	e.locked = lockedSet(day)
	e.running = true
	e.pauseReason = ""
	e.location = nil
	e.delayMin = 0
	e.focus = ""
	e.signals = make(map[string]*slotSignals)
	e.prompted = make(map[string]time.Time)
	e.batch = nil
}

func (e *Engine) buildExecutions(day models.Day, at time.Time) ([]models.ActivityExecution, error) {
	date := day.Date
	if date == "" {
		date = at.In(e.cfg.Location).Format(constants.DateFormat)
	}
	execs := make([]models.ActivityExecution, 0, len(day.Slots))
	for _, s := range day.Slots {
		start, err := utils.CombineDateAndTime(date, s.Start, e.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.ID, err)
		}
		end, err := utils.CombineDateAndTime(date, s.End, e.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.ID, err)
		}
		if end.Before(start) {
			end = end.Add(24 * time.Hour)
		}
		execs = append(execs, models.ActivityExecution{
			SlotID:         s.ID,
			DayIndex:       day.Index,
			State:          models.StateUpcoming,
			ScheduledStart: start,
			ScheduledEnd:   end,
		})
	}
	return execs, nil
}

func lockedSet(day models.Day) map[string]bool {
	locked := make(map[string]bool)
	for _, s := range day.Slots {
		if s.IsLocked {
			locked[s.ID] = true
		}
	}
	return locked
}

// Stop ends execution of the current day. The final state stays readable.
func (e *Engine) Stop() (err error) {
	defer apperrors.Recover(&err, "engine.Stop")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotStarted
	}
	e.running = false
	e.clock.Pause()
	e.bump()
	e.bus.Publish(Notice{Kind: NoticeState, Version: e.Version(), Message: "stopped"})
	logger.Info("Stopped day", "trip", e.tripID, "day", e.day.Index)
	return nil
}

func (e *Engine) Pause(reason string) (err error) {
	defer apperrors.Recover(&err, "engine.Pause")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotStarted
	}
	e.clock.Pause()
	e.pauseReason = reason
	e.bump()
	e.bus.Publish(Notice{Kind: NoticeState, Version: e.Version(), Message: "paused"})
	return nil
}

func (e *Engine) Resume() (err error) {
	defer apperrors.Recover(&err, "engine.Resume")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotStarted
	}
	e.clock.Resume()
	e.pauseReason = ""
	e.bump()
	e.bus.Publish(Notice{Kind: NoticeState, Version: e.Version(), Message: "resumed"})
	return nil
}

func (e *Engine) SetMultiplier(m float64) (err error) {
	defer apperrors.Recover(&err, "engine.SetMultiplier")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotStarted
	}
	if err := e.clock.SetMultiplier(m); err != nil {
		return err
	}
	e.bump()
	return nil
}

// Now returns the simulated time, or real time when no day is running.
func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock == nil {
		return e.cfg.RealNow()
	}
	return e.clock.Now()
}

// CheckIn starts a slot. Earlier slots that are still open are closed:
// started ones complete, the rest are skipped.
func (e *Engine) CheckIn(slotID string) (exec *models.ActivityExecution, err error) {
	defer apperrors.Recover(&err, "engine.CheckIn")
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup(slotID)
	if err != nil {
		return nil, err
	}
	if st.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", lifecycle.ErrIllegalTransition, slotID, st)
	}
	if st.IsStarted() {
		return e.execLocked(slotID), nil
	}

	idx := e.machine.Index(slotID)
	for _, id := range e.machine.Order()[:idx] {
		prev, _ := e.machine.State(id)
		switch {
		case prev.IsTerminal():
		case prev.IsStarted() || prev == models.StateArrived:
			e.fire(id, models.StateCompleted, models.TriggerSuperseded)
		default:
			e.fire(id, models.StateSkipped, models.TriggerSuperseded)
		}
	}

	if _, err := e.fire(slotID, models.StateInProgress, models.TriggerCheckIn); err != nil {
		return nil, err
	}
	e.focus = slotID

	ex, _ := e.machine.Get(slotID)
	if late := int(e.clock.Now().Sub(ex.ScheduledStart).Minutes()); late > e.delayMin {
		e.delayMin = late
	}
	e.bump()
	return e.execLocked(slotID), nil
}

// CheckOut completes a slot. A slot that was never started is started and
// completed in one step.
func (e *Engine) CheckOut(slotID string, rating *int, notes string) (exec *models.ActivityExecution, err error) {
	defer apperrors.Recover(&err, "engine.CheckOut")
	e.mu.Lock()
	defer e.mu.Unlock()

	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, ErrInvalidRating
	}
	st, err := e.lookup(slotID)
	if err != nil {
		return nil, err
	}
	if st.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", lifecycle.ErrIllegalTransition, slotID, st)
	}
	if !st.IsStarted() && st != models.StateArrived {
		if _, err := e.fire(slotID, models.StateInProgress, models.TriggerCheckOut); err != nil {
			return nil, err
		}
	}
	if _, err := e.fire(slotID, models.StateCompleted, models.TriggerCheckOut); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	_ = e.machine.Edit(slotID, func(x *models.ActivityExecution) {
		if rating != nil {
			r := *rating
			x.Rating = &r
		}
		if notes != "" {
			x.Notes = notes
		}
		if now.Before(x.ScheduledEnd) {
			x.ShortenedMin = int(x.ScheduledEnd.Sub(now).Minutes())
		}
	})
	e.advanceFocus()
	e.bump()
	return e.execLocked(slotID), nil
}

// Extend lengthens a running slot. Later open slots shift by the same
// amount and the delay is carried forward.
func (e *Engine) Extend(slotID string, minutes int) (exec *models.ActivityExecution, err error) {
	defer apperrors.Recover(&err, "engine.Extend")
	e.mu.Lock()
	defer e.mu.Unlock()

	if minutes <= 0 {
		return nil, ErrInvalidExtension
	}
	st, err := e.lookup(slotID)
	if err != nil {
		return nil, err
	}
	if !st.IsStarted() {
		return nil, fmt.Errorf("%w: cannot extend %s while %s", lifecycle.ErrIllegalTransition, slotID, st)
	}

	to := models.StateExtended
	if st == models.StateExtended {
		to = models.StateInProgress
	}
	if _, err := e.fire(slotID, to, models.TriggerExtend); err != nil {
		return nil, err
	}

	delta := time.Duration(minutes) * time.Minute
	_ = e.machine.Edit(slotID, func(x *models.ActivityExecution) {
		x.ExtendedMin += minutes
		x.ScheduledEnd = x.ScheduledEnd.Add(delta)
	})
	idx := e.machine.Index(slotID)
	for _, id := range e.machine.Order()[idx+1:] {
		if s, _ := e.machine.State(id); s.IsTerminal() {
			continue
		}
		_ = e.machine.Edit(id, func(x *models.ActivityExecution) {
			x.ScheduledStart = x.ScheduledStart.Add(delta)
			x.ScheduledEnd = x.ScheduledEnd.Add(delta)
		})
	}
	e.delayMin += minutes
	e.bump()
	logger.Debug("Extended slot", "slot", slotID, "minutes", minutes, "delay", e.delayMin)
	return e.execLocked(slotID), nil
}

// Skip marks a slot skipped and moves focus on if it held it.
func (e *Engine) Skip(slotID, reason string) (*models.ActivityExecution, error) {
	return e.terminate(slotID, models.StateSkipped, models.TriggerSkip, reason)
}

// Defer pushes a slot out of today's plan.
func (e *Engine) Defer(slotID, reason string) (*models.ActivityExecution, error) {
	return e.terminate(slotID, models.StateDeferred, models.TriggerDefer, reason)
}

// Replace marks a slot as replaced by another activity.
func (e *Engine) Replace(slotID, reason string) (*models.ActivityExecution, error) {
	return e.terminate(slotID, models.StateReplaced, models.TriggerReplace, reason)
}

func (e *Engine) terminate(slotID string, to models.ActivityState, trigger models.Trigger, reason string) (exec *models.ActivityExecution, err error) {
	defer apperrors.Recover(&err, "engine."+string(trigger))
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup(slotID)
	if err != nil {
		return nil, err
	}
	if st.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", lifecycle.ErrIllegalTransition, slotID, st)
	}
	if _, err := e.fire(slotID, to, trigger); err != nil {
		return nil, err
	}
	if reason != "" {
		_ = e.machine.Edit(slotID, func(x *models.ActivityExecution) { x.Reason = reason })
	}
	if st.IsActive() || slotID == e.focus {
		e.advanceFocus()
	}
	e.bump()
	return e.execLocked(slotID), nil
}

// UpdateLocation records a new position and applies the geofence events it produces.
func (e *Engine) UpdateLocation(p models.Coordinates) (events []geo.Event, err error) {
	defer apperrors.Recover(&err, "engine.UpdateLocation")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ErrNotStarted
	}
	loc := p
	e.location = &loc
	events = e.fences.Update(p, e.clock.Now())

	for i := range events {
		ev := events[i]
		e.bus.Publish(Notice{Kind: NoticeGeofence, Version: e.Version(), Geofence: &ev})
		switch ev.Kind {
		case geo.EventEnter:
			e.onEnter(ev)
		case geo.EventExit:
			e.onExit(ev)
		case geo.EventDwell:
			e.onDwell(ev)
		}
	}
	e.bump()
	return events, nil
}

func (e *Engine) onEnter(ev geo.Event) {
	st, ok := e.machine.State(ev.SlotID)
	if !ok {
		return
	}
	if ev.SlotID == e.focus {
		switch st {
		case models.StateUpcoming, models.StatePending, models.StateEnRoute:
			e.fire(ev.SlotID, models.StateArrived, models.TriggerGeofenceEnter)
		}
		return
	}
	focusState, _ := e.machine.State(e.focus)
	if focusState.IsStarted() || focusState == models.StateArrived {
		if next, ok := e.machine.Next(e.focus); ok && next == ev.SlotID {
			e.sig(e.focus).arrivedNext = true
			e.evaluate(e.focus)
		}
	}
}

func (e *Engine) onExit(ev geo.Event) {
	st, ok := e.machine.State(ev.SlotID)
	if !ok {
		return
	}
	switch {
	case st == models.StateArrived:
		e.fire(ev.SlotID, models.StatePending, models.TriggerGeofenceExit)
	case st.IsStarted():
		e.sig(ev.SlotID).leftFence = true
		now := e.clock.Now()
		_ = e.machine.Edit(ev.SlotID, func(x *models.ActivityExecution) { x.DepartedAt = &now })
		e.evaluate(ev.SlotID)
	}
	if ev.SlotID != e.focus {
		if fs, _ := e.machine.State(e.focus); fs == models.StatePending {
			e.fire(e.focus, models.StateEnRoute, models.TriggerGeofenceExit)
		}
	}
}

func (e *Engine) onDwell(ev geo.Event) {
	if ev.SlotID != e.focus {
		return
	}
	if st, _ := e.machine.State(ev.SlotID); st == models.StateArrived {
		e.fire(ev.SlotID, models.StateInProgress, models.TriggerGeofenceDwell)
	}
}

// Report feeds passive completion evidence for a slot and returns the
// resulting confidence.
func (e *Engine) Report(slotID string, ev Evidence) (res confidence.Result, err error) {
	defer apperrors.Recover(&err, "engine.Report")
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.lookup(slotID); err != nil {
		return confidence.Result{}, err
	}
	s := e.sig(slotID)
	s.evidence.Leaving = s.evidence.Leaving || ev.Leaving
	s.evidence.Payment = s.evidence.Payment || ev.Payment
	s.evidence.Photo = s.evidence.Photo || ev.Photo
	res = e.evaluate(slotID)
	e.bump()
	return res, nil
}

// evaluate scores a started slot and acts on the recommendation.
func (e *Engine) evaluate(slotID string) confidence.Result {
	ex, ok := e.machine.Get(slotID)
	if !ok || !(ex.State.IsStarted() || ex.State == models.StateArrived) {
		return confidence.Result{Recommendation: confidence.Wait}
	}
	now := e.clock.Now()
	s := e.sig(slotID)

	atVenue := false
	if f, ok := e.fences.Fence(e.fences.Active()); ok {
		atVenue = f.SlotID == slotID
	}
	var dwell float64
	if since := firstTime(ex.ArrivedAt, ex.ActualStart); since != nil {
		until := now
		if ex.DepartedAt != nil {
			until = *ex.DepartedAt
		}
		dwell = until.Sub(*since).Minutes()
	}

	res := confidence.Score(confidence.Signals{
		Now:                now,
		SlotStart:          ex.ScheduledStart,
		SlotEnd:            ex.ScheduledEnd,
		PlannedDurationMin: ex.PlannedDurationMin(),
		AtVenue:            atVenue,
		LeftGeofence:       s.leftFence,
		ArrivedAtNextVenue: s.arrivedNext,
		DwellMin:           dwell,
		LeavingMessage:     s.evidence.Leaving,
		PaymentDetected:    s.evidence.Payment,
		PhotoWithLocation:  s.evidence.Photo,
	})
	logger.Debug("Scored completion", "slot", slotID, "score", res.Score, "recommendation", res.Recommendation)

	switch res.Recommendation {
	case confidence.AutoComplete:
		if _, err := e.fire(slotID, models.StateCompleted, models.TriggerAutoComplete); err == nil {
			e.advanceFocus()
		}
	case confidence.AskUser:
		e.prompt(slotID, res, now)
	}
	return res
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}

// prompt publishes a confirm_completion event, at most once per cooldown per slot.
func (e *Engine) prompt(slotID string, res confidence.Result, now time.Time) {
	if last, ok := e.prompted[slotID]; ok && now.Sub(last) < e.cfg.PromptCooldown {
		return
	}
	e.prompted[slotID] = now

	name := slotID
	if i, ok := e.day.FindSlot(slotID); ok {
		name = e.day.Slots[i].Name()
	}
	ev := models.NewEvent(models.EventConfirmCompletion, models.PriorityNormal,
		fmt.Sprintf("Looks like you may be done at %s. Finished?", name), now)
	ev.SlotID = slotID
	ev.Source = "engine"
	ev.Tip = fmt.Sprintf("completion confidence %d%%", res.Score)
	ev.Actions = []models.ResponseAction{
		models.NewAction(models.ActionCheckOut, "Yes, done", slotID),
		models.NewAction(models.ActionExtend, "Staying longer", slotID),
		models.NewAction(models.ActionDismiss, "Not yet", slotID),
	}
	e.bus.Publish(Notice{Kind: NoticeEvent, Version: e.Version(), Event: &ev})
}

// advanceFocus hands focus to the first open slot. It turns pending once
// inside the lead time, or arrived if the user is already at its venue.
func (e *Engine) advanceFocus() {
	id, ok := e.machine.Focus()
	if !ok {
		e.focus = ""
		if e.machine.Done() {
			e.bus.Publish(Notice{Kind: NoticeState, Version: e.Version(), Message: "day complete"})
			logger.Info("Day complete", "trip", e.tripID, "day", e.day.Index)
		}
		return
	}
	e.focus = id
	if st, _ := e.machine.State(id); st != models.StateUpcoming {
		return
	}
	if f, ok := e.fences.Fence(e.fences.Active()); ok && f.SlotID == id {
		e.fire(id, models.StateArrived, models.TriggerGeofenceEnter)
		return
	}
	// later slots wait for the time threshold in Tick
	ex, _ := e.machine.Get(id)
	if !e.clock.Now().Before(ex.ScheduledStart.Add(-e.cfg.PendingLead)) {
		e.fire(id, models.StatePending, models.TriggerTimeThreshold)
	}
}

// Tick applies time-driven transitions and returns the ones it made.
func (e *Engine) Tick() (transitions []models.Transition, err error) {
	defer apperrors.Recover(&err, "engine.Tick")
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ErrNotStarted
	}
	e.batch = e.batch[:0]
	e.collecting = true
	defer func() { e.collecting, e.batch = false, e.batch[:0] }()

	if e.focus != "" {
		ex, _ := e.machine.Get(e.focus)
		now := e.clock.Now()
		switch {
		case ex.State == models.StateUpcoming && !now.Before(ex.ScheduledStart.Add(-e.cfg.PendingLead)):
			e.fire(e.focus, models.StatePending, models.TriggerTimeThreshold)
		case ex.State.IsStarted() && now.After(ex.ScheduledEnd):
			e.evaluate(e.focus)
		}
	}

	transitions = append([]models.Transition(nil), e.batch...)
	if len(transitions) > 0 {
		e.bump()
	}
	return transitions, nil
}

// Advance fast-forwards the simulated clock and ticks once.
func (e *Engine) Advance(d time.Duration) ([]models.Transition, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.clock.Advance(d)
	e.mu.Unlock()
	return e.Tick()
}

// Run ticks the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = constants.DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Tick(); err != nil && !errors.Is(err, ErrNotStarted) {
				logger.Warn("Tick failed", "error", err)
			}
		}
	}
}

// SetItinerary swaps in a new itinerary snapshot produced by the action
// executor. Slot states are kept; the locked set follows the new snapshot.
func (e *Engine) SetItinerary(it *models.Itinerary) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.itinerary = it
	if e.machine == nil || it == nil || !it.HasDay(e.day.Index) {
		return
	}
	e.day = it.Days[e.day.Index]
	e.locked = lockedSet(e.day)
	e.bump()
}

// Itinerary returns the snapshot the engine is executing.
func (e *Engine) Itinerary() *models.Itinerary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.itinerary
}

// Execution returns a copy of one slot's execution.
func (e *Engine) Execution(slotID string) (*models.ActivityExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.lookup(slotID); err != nil {
		return nil, err
	}
	return e.execLocked(slotID), nil
}

// Executions returns copies of every execution of the day in slot order.
func (e *Engine) Executions() []models.ActivityExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.machine == nil {
		return nil
	}
	return e.machine.Executions()
}

func (e *Engine) Snapshot() models.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() models.ExecutionState {
	state := models.ExecutionState{
		TripID:      e.tripID,
		Running:     e.running,
		SlotStates:  make(map[string]models.ActivityState),
		LockedSlots: make(map[string]bool),
		Version:     e.Version(),
	}
	if e.machine == nil {
		state.Now = e.cfg.RealNow()
		state.Multiplier = e.cfg.Multiplier
		return state
	}
	state.DayIndex = e.day.Index
	state.Now = e.clock.Now()
	state.Multiplier = e.clock.Multiplier()
	state.Paused = e.clock.Paused()
	state.PauseReason = e.pauseReason
	for _, x := range e.machine.Executions() {
		state.SlotStates[x.SlotID] = x.State
	}
	for id := range e.locked {
		state.LockedSlots[id] = true
	}
	if e.location != nil {
		loc := *e.location
		state.Location = &loc
	}
	state.AccumulatedDelayMin = e.delayMin
	state.CompletedCount, state.SkippedCount = e.machine.Counts()
	state.FocusSlotID = e.focus
	return state
}

// Record flattens the running day for persistence.
func (e *Engine) Record() (models.ExecutionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine == nil {
		return models.ExecutionRecord{}, ErrNotStarted
	}
	st := e.snapshotLocked()
	rec := models.ExecutionRecord{
		TripID:              st.TripID,
		DayIndex:            st.DayIndex,
		SimulatedTime:       st.Now,
		Multiplier:          st.Multiplier,
		Paused:              st.Paused,
		PauseReason:         st.PauseReason,
		SlotStates:          st.SlotStates,
		AccumulatedDelayMin: st.AccumulatedDelayMin,
		FocusSlotID:         st.FocusSlotID,
		CompletedCount:      st.CompletedCount,
		SkippedCount:        st.SkippedCount,
		Location:            st.Location,
		Executions:          e.machine.Executions(),
		SavedAt:             e.cfg.RealNow(),
	}
	if e.fences != nil {
		fs := e.fences.State()
		rec.Geofence = &fs
	}
	for _, x := range rec.Executions {
		if st.LockedSlots[x.SlotID] {
			rec.LockedSlots = append(rec.LockedSlots, x.SlotID)
		}
	}
	return rec, nil
}

// Restore rebuilds a running day from a persisted record.
func (e *Engine) Restore(rec models.ExecutionRecord, it *models.Itinerary) (err error) {
	defer apperrors.Recover(&err, "engine.Restore")
	e.mu.Lock()
	defer e.mu.Unlock()

	if it == nil || !it.HasDay(rec.DayIndex) {
		return fmt.Errorf("%w: %d", ErrDayOutOfRange, rec.DayIndex)
	}
	day := it.Days[rec.DayIndex]
	execs, err := e.buildExecutions(day, rec.SimulatedTime)
	if err != nil {
		return err
	}
	saved := make(map[string]models.ActivityExecution, len(rec.Executions))
	for _, x := range rec.Executions {
		saved[x.SlotID] = x
	}
	for i := range execs {
		if x, ok := saved[execs[i].SlotID]; ok {
			execs[i] = x.Clone()
		}
		if st, ok := rec.SlotStates[execs[i].SlotID]; ok {
			execs[i].State = st
		}
	}

	e.reset(rec.TripID, it, day)
	multiplier := rec.Multiplier
	if multiplier <= 0 {
		multiplier = e.cfg.Multiplier
	}
	e.clock = NewClock(rec.SimulatedTime, multiplier, e.cfg.RealNow)
	if rec.Paused {
		e.clock.Pause()
		e.pauseReason = rec.PauseReason
	}
	e.machine = lifecycle.New(rec.DayIndex, execs)
	for _, id := range rec.LockedSlots {
		e.locked[id] = true
	}
	e.delayMin = rec.AccumulatedDelayMin
	e.focus = rec.FocusSlotID
	if e.focus == "" {
		e.focus, _ = e.machine.Focus()
	}
	if rec.Location != nil {
		loc := *rec.Location
		e.location = &loc
	}
	switch {
	case rec.Geofence != nil:
		e.fences.SetState(*rec.Geofence)
	case e.location != nil:
		// older records carry only the location; re-establish the active
		// fence without replaying its events
		e.fences.Update(*e.location, rec.SimulatedTime)
	}
	e.bump()
	logger.Info("Restored day", "trip", rec.TripID, "day", rec.DayIndex, "focus", e.focus)
	return nil
}

func (e *Engine) lookup(slotID string) (models.ActivityState, error) {
	if !e.running {
		return "", ErrNotStarted
	}
	if st, ok := e.machine.State(slotID); ok {
		return st, nil
	}
	if e.itinerary != nil {
		if di, _, ok := e.itinerary.FindSlot(slotID); ok && di != e.day.Index {
			return "", fmt.Errorf("%w: %s (day %d)", lifecycle.ErrWrongDay, slotID, di)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSlotNotInDay, slotID)
}

func (e *Engine) fire(slotID string, to models.ActivityState, trigger models.Trigger) (models.Transition, error) {
	tr, err := e.machine.Fire(e.day.Index, slotID, to, trigger, e.clock.Now())
	if err != nil {
		logger.Debug("Transition refused", "slot", slotID, "to", to, "trigger", trigger, "error", err)
		return tr, err
	}
	if e.collecting {
		e.batch = append(e.batch, tr)
	}
	logger.Debug("Transition", "slot", tr.SlotID, "from", tr.From, "to", tr.To, "trigger", tr.Trigger)
	e.bus.Publish(Notice{Kind: NoticeTransition, Version: e.Version() + 1, Transition: &tr})
	return tr, nil
}

func (e *Engine) sig(slotID string) *slotSignals {
	s, ok := e.signals[slotID]
	if !ok {
		s = &slotSignals{}
		e.signals[slotID] = s
	}
	return s
}

func (e *Engine) execLocked(slotID string) *models.ActivityExecution {
	x, ok := e.machine.Get(slotID)
	if !ok {
		return nil
	}
	return &x
}

func (e *Engine) bump() { e.version.Add(1) }
