// Package swipe tracks the reveal-to-delete gesture across the rows of one rendered list
// so that at most one row shows its action at a time.
//
// A RowSet is owned by the goroutine that renders the list; it has no internal locking.
package swipe

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownRow is returned for gestures on rows that are not in the set.
	ErrUnknownRow = errors.New("swipe unknown row")
	// ErrNoGesture is returned by Move and End without a matching Begin.
	ErrNoGesture = errors.New("swipe no gesture in progress")
)

// State is the reveal state of one row.
type State string

const (
	StateClosed    State = "closed"
	StateRevealing State = "revealing"
	StateRevealed  State = "revealed"
)

// Axis is the locked direction of a gesture.
type Axis int

const (
	AxisUndecided Axis = iota
	AxisHorizontal
	AxisVertical
)

const (
	DefaultActionWidth = 60
	DefaultDeadZone    = 10
)

// Config sizes the action area. Zero values take the defaults.
type Config struct {
	ActionWidth float64
	DeadZone    float64
}

// Validate rejects negative sizes.
func (c Config) Validate() error {
	if c.ActionWidth < 0 || c.DeadZone < 0 {
		return fmt.Errorf("swipe: action width and dead zone must not be negative (got %v, %v)", c.ActionWidth, c.DeadZone)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ActionWidth == 0 {
		c.ActionWidth = DefaultActionWidth
	}
	if c.DeadZone == 0 {
		c.DeadZone = DefaultDeadZone
	}
	return c
}

type row struct {
	state  State
	offset float64
}

type gesture struct {
	rowID       string
	startX      float64
	startY      float64
	baseOffset  float64
	axis        Axis
	wasRevealed bool
}

// RowSet holds the rows of one list.
type RowSet struct {
	cfg    Config
	rows   map[string]*row
	open   string
	active *gesture
}

// NewRowSet builds a set with every row closed.
func NewRowSet(cfg Config, rowIDs ...string) (*RowSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &RowSet{cfg: cfg.withDefaults(), rows: make(map[string]*row, len(rowIDs))}
	for _, id := range rowIDs {
		s.rows[id] = &row{state: StateClosed}
	}
	return s, nil
}

// Threshold is the leftward distance past which a released drag stays revealed.
func (s *RowSet) Threshold() float64 { return s.cfg.ActionWidth / 2 }

// Begin starts a gesture on rowID at (x, y). A gesture still in progress on another row
// is abandoned.
func (s *RowSet) Begin(rowID string, x, y float64) error {
	r, ok := s.rows[rowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRow, rowID)
	}
	s.abandon()
	s.active = &gesture{
		rowID:       rowID,
		startX:      x,
		startY:      y,
		baseOffset:  r.offset,
		wasRevealed: r.state == StateRevealed,
	}
	return nil
}

// Move updates the gesture on rowID. Until the movement leaves the dead zone on one axis
// more than the other the gesture is undecided; once classified the axis stays locked.
// Only horizontal gestures move the row.
func (s *RowSet) Move(rowID string, x, y float64) (Axis, error) {
	g := s.active
	if g == nil || g.rowID != rowID {
		return AxisUndecided, fmt.Errorf("%w: %s", ErrNoGesture, rowID)
	}
	dx, dy := x-g.startX, y-g.startY
	if g.axis == AxisUndecided {
		ax, ay := math.Abs(dx), math.Abs(dy)
		switch {
		case ax > s.cfg.DeadZone && ax > ay:
			g.axis = AxisHorizontal
		case ay > s.cfg.DeadZone && ay > ax:
			g.axis = AxisVertical
		}
	}
	if g.axis != AxisHorizontal {
		return g.axis, nil
	}

	r := s.rows[rowID]
	if r.state != StateRevealing {
		s.closeOthers(rowID)
		r.state = StateRevealing
		if s.open == rowID {
			s.open = ""
		}
	}
	r.offset = clamp(g.baseOffset+dx, -s.cfg.ActionWidth, 0)
	return g.axis, nil
}

// End finishes the gesture on rowID and returns the row's resulting state. A horizontal
// drag released more than Threshold to the left stays revealed; any other horizontal
// release closes the row. Undecided and vertical gestures leave the row as it was.
func (s *RowSet) End(rowID string) (State, error) {
	g := s.active
	if g == nil || g.rowID != rowID {
		return "", fmt.Errorf("%w: %s", ErrNoGesture, rowID)
	}
	s.active = nil
	r := s.rows[rowID]
	if g.axis != AxisHorizontal {
		return r.state, nil
	}
	if r.offset < -s.Threshold() {
		s.closeOthers(rowID)
		r.state, r.offset = StateRevealed, -s.cfg.ActionWidth
		s.open = rowID
		return r.state, nil
	}
	s.close(rowID)
	return StateClosed, nil
}

// Tap closes rowID when it is revealed and reports whether the tap was consumed by
// closing; otherwise the caller handles the tap as a normal selection.
func (s *RowSet) Tap(rowID string) bool {
	r, ok := s.rows[rowID]
	if !ok || r.state != StateRevealed {
		return false
	}
	s.close(rowID)
	return true
}

// Close forces rowID closed.
func (s *RowSet) Close(rowID string) {
	if _, ok := s.rows[rowID]; ok {
		if s.active != nil && s.active.rowID == rowID {
			s.active = nil
		}
		s.close(rowID)
	}
}

// Remove drops rowID, as after its delete action succeeded.
func (s *RowSet) Remove(rowID string) {
	if s.active != nil && s.active.rowID == rowID {
		s.active = nil
	}
	if s.open == rowID {
		s.open = ""
	}
	delete(s.rows, rowID)
}

// Reset replaces the rows after a re-render. Every row is closed unless preserve is set,
// in which case a revealed row that is still present stays revealed.
func (s *RowSet) Reset(rowIDs []string, preserve bool) {
	keep := ""
	if preserve && s.open != "" {
		keep = s.open
	}
	s.active = nil
	s.open = ""
	rows := make(map[string]*row, len(rowIDs))
	for _, id := range rowIDs {
		rows[id] = &row{state: StateClosed}
		if id == keep {
			rows[id] = &row{state: StateRevealed, offset: -s.cfg.ActionWidth}
			s.open = id
		}
	}
	s.rows = rows
}

// State returns the state of rowID; unknown rows are closed.
func (s *RowSet) State(rowID string) State {
	if r, ok := s.rows[rowID]; ok {
		return r.state
	}
	return StateClosed
}

// Offset returns the horizontal displacement of rowID, between -ActionWidth and 0.
func (s *RowSet) Offset(rowID string) float64 {
	if r, ok := s.rows[rowID]; ok {
		return r.offset
	}
	return 0
}

// Revealed returns the revealed row, if any.
func (s *RowSet) Revealed() (string, bool) {
	return s.open, s.open != ""
}

// Len returns the number of rows.
func (s *RowSet) Len() int { return len(s.rows) }

// abandon drops an unfinished gesture, putting its row back where it started.
func (s *RowSet) abandon() {
	g := s.active
	if g == nil {
		return
	}
	s.active = nil
	r, ok := s.rows[g.rowID]
	if !ok || r.state != StateRevealing {
		return
	}
	if g.wasRevealed && s.open == "" {
		r.state, r.offset = StateRevealed, -s.cfg.ActionWidth
		s.open = g.rowID
		return
	}
	r.state, r.offset = StateClosed, 0
}

func (s *RowSet) closeOthers(rowID string) {
	for id, r := range s.rows {
		if id != rowID && r.state != StateClosed {
			r.state, r.offset = StateClosed, 0
		}
	}
	if s.open != rowID {
		s.open = ""
	}
}

func (s *RowSet) close(rowID string) {
	if r, ok := s.rows[rowID]; ok {
		r.state, r.offset = StateClosed, 0
	}
	if s.open == rowID {
		s.open = ""
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
