package l4depth

import (
	"errors"
	"fmt"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// Fallback selects what a camera's depth field becomes when densification
// fails for a frame.
type Fallback int

const (
	// FallbackPrevious keeps the last good field when its shape still
	// matches, otherwise a zero field.
	FallbackPrevious Fallback = iota
	// FallbackZero publishes a zero field.
	FallbackZero
	// FallbackSkip publishes nothing for that camera this frame.
	FallbackSkip
)

func (f Fallback) String() string {
	switch f {
	case FallbackPrevious:
		return "previous"
	case FallbackZero:
		return "zero"
	case FallbackSkip:
		return "skip"
	}
	return fmt.Sprintf("fallback(%d)", int(f))
}

// ParseFallback maps the configuration value onto a policy.
func ParseFallback(s string) (Fallback, error) {
	switch s {
	case "", "previous":
		return FallbackPrevious, nil
	case "zero":
		return FallbackZero, nil
	case "skip":
		return FallbackSkip, nil
	}
	return FallbackPrevious, fmt.Errorf("unknown depth fallback %q", s)
}

// Outcome records how a camera's field was produced.
type Outcome int

const (
	OutcomeSolved Outcome = iota
	OutcomePrevious
	OutcomeZero
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomePrevious:
		return "previous"
	case OutcomeZero:
		return "zero"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON reports.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses a name written by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "solved":
		*o = OutcomeSolved
	case "previous":
		*o = OutcomePrevious
	case "zero":
		*o = OutcomeZero
	case "skipped":
		*o = OutcomeSkipped
	default:
		return fmt.Errorf("unknown depth outcome %q", b)
	}
	return nil
}

// Stage densifies per-camera depth across frames and applies the fallback
// policy. It remembers the last published field of each camera and whether
// that field came from a successful solve. Not safe for concurrent use.
type Stage struct {
	Densifier *Densifier
	Policy    Fallback

	fields [l2frames.NumCameras]*l2frames.Grid
	solved [l2frames.NumCameras]bool
}

// NewStage returns a Stage using d and policy.
func NewStage(d *Densifier, policy Fallback) *Stage {
	if d == nil {
		d = NewDensifier(0, 0)
	}
	return &Stage{Densifier: d, Policy: policy}
}

// Run densifies one camera. A densification error is returned together with
// the fallback outcome; dimension mismatches and solver failures are both
// absorbed by the policy.
func (s *Stage) Run(cam l2frames.CameraIndex, sparse l2frames.Grid, mask l2frames.Mask) (Outcome, error) {
	field, err := s.Densifier.Densify(sparse, mask)
	if err == nil {
		s.fields[cam] = &field
		s.solved[cam] = true
		return OutcomeSolved, nil
	}
	if !errors.Is(err, ErrDimensionMismatch) && !errors.Is(err, ErrInterpolationFailed) {
		return OutcomeSkipped, err
	}

	switch s.Policy {
	case FallbackSkip:
		s.fields[cam] = nil
		s.solved[cam] = false
		return OutcomeSkipped, err
	case FallbackPrevious:
		// only a solved field counts as previous; a zero fill does not
		if prev := s.fields[cam]; s.solved[cam] && prev != nil && prev.SameShape(sparse.Rows, sparse.Cols) {
			return OutcomePrevious, err
		}
	}
	zero := l2frames.NewGrid(sparse.Rows, sparse.Cols)
	s.fields[cam] = &zero
	s.solved[cam] = false
	return OutcomeZero, err
}

// Field returns the latest published field for cam, or nil.
func (s *Stage) Field(cam l2frames.CameraIndex) *l2frames.Grid {
	return s.fields[cam]
}

// Reset forgets every stored field.
func (s *Stage) Reset() {
	s.fields = [l2frames.NumCameras]*l2frames.Grid{}
	s.solved = [l2frames.NumCameras]bool{}
}
