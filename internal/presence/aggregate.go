package presence

import "github.com/devpulse/devpulse-server/internal/protocol"

// Window is the state one live connection reports for aggregation. Seq orders windows by connection time; lower is
// earlier.
type Window struct {
	Seq      uint64
	Status   string
	Activity string
	Project  string
	Language string
}

// Rank orders activities for multi-window aggregation. Higher is more interesting.
func Rank(activity string) int {
	switch activity {
	case protocol.ActivityDebugging:
		return 4
	case protocol.ActivityCoding:
		return 3
	case protocol.ActivityReading:
		return 2
	case protocol.ActivityIdle:
		return 1
	default:
		return 0
	}
}

// Aggregate picks the window whose activity ranks highest; on ties the earliest-connected window wins. Returns false
// when there are no windows.
func Aggregate(windows []Window) (Window, bool) {
	if len(windows) == 0 {
		return Window{}, false
	}
	best := windows[0]
	for _, w := range windows[1:] {
		r, br := Rank(w.Activity), Rank(best.Activity)
		if r > br || (r == br && w.Seq < best.Seq) {
			best = w
		}
	}
	return best, true
}
