package constraints

import (
	"fmt"

	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

// ProposeMove returns the itinerary as it would look after m. Only the
// source and target days are copied; the input is never modified.
func ProposeMove(it *models.Itinerary, m Move) (*models.Itinerary, error) {
	di, si, ok := it.FindSlot(m.SlotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, m.SlotID)
	}
	if !it.HasDay(m.TargetDay) {
		return nil, fmt.Errorf("%w: %d", ErrDayOutOfRange, m.TargetDay)
	}

	slot := it.Days[di].Slots[si].Clone()
	if m.Start != "" {
		retimed, err := Retime(slot, m.Start)
		if err != nil {
			return nil, err
		}
		slot = retimed
	}

	next := it.Clone()
	src := it.Days[di]
	src.Slots = RemoveAt(src.Slots, si)
	if di == m.TargetDay {
		src.Slots = place(src.Slots, slot, m.Position)
		next.WithDay(di, src)
		return next, nil
	}

	dst := it.Days[m.TargetDay]
	dst.Slots = place(dst.Slots, slot, m.Position)
	next.WithDay(di, src)
	next.WithDay(m.TargetDay, dst)
	return next, nil
}

// ProposeSwap exchanges the day, category and time range of two slots. Each
// slot takes the other's position, so no other slot moves.
func ProposeSwap(it *models.Itinerary, a, b string) (*models.Itinerary, error) {
	da, ia, ok := it.FindSlot(a)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, a)
	}
	db, ib, ok := it.FindSlot(b)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, b)
	}

	sa := it.Days[da].Slots[ia].Clone()
	sb := it.Days[db].Slots[ib].Clone()
	sa.Type, sb.Type = sb.Type, sa.Type
	sa.Start, sb.Start = sb.Start, sa.Start
	sa.End, sb.End = sb.End, sa.End

	next := it.Clone()
	if da == db {
		day := it.Days[da]
		day.Slots = append([]models.Slot(nil), day.Slots...)
		day.Slots[ia], day.Slots[ib] = sb, sa
		next.WithDay(da, day)
		return next, nil
	}

	dayA := it.Days[da]
	dayA.Slots = append([]models.Slot(nil), dayA.Slots...)
	dayA.Slots[ia] = sb

	dayB := it.Days[db]
	dayB.Slots = append([]models.Slot(nil), dayB.Slots...)
	dayB.Slots[ib] = sa

	next.WithDay(da, dayA)
	next.WithDay(db, dayB)
	return next, nil
}

// Retime moves a slot to a new start keeping its duration.
func Retime(s models.Slot, start string) (models.Slot, error) {
	newStart, err := utils.ParseTimeToMinutes(start)
	if err != nil {
		return s, fmt.Errorf("invalid start time %q: %w", start, err)
	}
	oldStart, err := s.StartMin()
	if err != nil {
		return s, err
	}
	oldEnd, err := s.EndMin()
	if err != nil {
		return s, err
	}
	dur := oldEnd - oldStart
	if dur < 0 {
		dur += 24 * 60
	}
	s.Start = utils.FormatMinutes(newStart)
	s.End = utils.FormatMinutes(newStart + dur)
	return s, nil
}

// RemoveAt returns a new slice without index i.
func RemoveAt(slots []models.Slot, i int) []models.Slot {
	out := make([]models.Slot, 0, len(slots)-1)
	out = append(out, slots[:i]...)
	return append(out, slots[i+1:]...)
}

// InsertAt returns a new slice with s at index i, clamped to the bounds.
func InsertAt(slots []models.Slot, s models.Slot, i int) []models.Slot {
	if i < 0 {
		i = 0
	}
	if i > len(slots) {
		i = len(slots)
	}
	out := make([]models.Slot, 0, len(slots)+1)
	out = append(out, slots[:i]...)
	out = append(out, s)
	return append(out, slots[i:]...)
}

// place inserts s at pos, or without a position before the first slot of a
// later category. The other slots keep their relative order.
func place(slots []models.Slot, s models.Slot, pos *int) []models.Slot {
	if pos != nil {
		return InsertAt(slots, s, *pos)
	}
	i := len(slots)
	for j, other := range slots {
		if other.Type.Rank() > s.Type.Rank() {
			i = j
			break
		}
	}
	return InsertAt(slots, s, i)
}
