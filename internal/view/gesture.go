package view

import "math"

// Phase is the pointer gesture state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePointerDown
	PhaseDragging
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePointerDown:
		return "pointer-down"
	case PhaseDragging:
		return "dragging"
	default:
		return "unknown"
	}
}

// Outcome is what a pointer event resolved to.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomePan
	OutcomeClick
	OutcomeDragEnd
)

// ExceedsThreshold reports whether b is more than threshold pixels from a.
func ExceedsThreshold(a, b Point, threshold float64) bool {
	return math.Hypot(b.X-a.X, b.Y-a.Y) > threshold
}

// Gesture disambiguates drags from clicks:
// Idle -> PointerDown -> (Dragging | Click). Once the threshold is crossed
// the gesture can no longer end in a click.
type Gesture struct {
	threshold   float64
	phase       Phase
	start       Point
	startOffset Point
}

func NewGesture(threshold float64) *Gesture {
	if threshold <= 0 {
		threshold = DefaultDragThreshold
	}
	return &Gesture{threshold: threshold}
}

func (g *Gesture) Phase() Phase { return g.phase }

// Dragging reports whether a drag is in progress.
func (g *Gesture) Dragging() bool { return g.phase == PhaseDragging }

// Down starts a potential drag at p, remembering the view offset.
func (g *Gesture) Down(p, offset Point) {
	g.phase = PhasePointerDown
	g.start = p
	g.startOffset = offset
}

// Move returns OutcomePan with the screen delta since Down once the gesture
// is a drag.
func (g *Gesture) Move(p Point) (Outcome, Point) {
	switch g.phase {
	case PhasePointerDown:
		if !ExceedsThreshold(g.start, p, g.threshold) {
			return OutcomeNone, Point{}
		}
		g.phase = PhaseDragging
		fallthrough
	case PhaseDragging:
		return OutcomePan, p.Sub(g.start)
	default:
		return OutcomeNone, Point{}
	}
}

// StartOffset is the view offset captured by Down.
func (g *Gesture) StartOffset() Point { return g.startOffset }

// Up ends the gesture. A release that never crossed the threshold is a
// click at the release point.
func (g *Gesture) Up(p Point) Outcome {
	defer func() { g.phase = PhaseIdle }()
	switch g.phase {
	case PhasePointerDown:
		if ExceedsThreshold(g.start, p, g.threshold) {
			return OutcomeDragEnd
		}
		return OutcomeClick
	case PhaseDragging:
		return OutcomeDragEnd
	default:
		return OutcomeNone
	}
}

// Cancel abandons the gesture without a click.
func (g *Gesture) Cancel() { g.phase = PhaseIdle }
