package extract

import "sort"

// CodeSet is a set of candidate codes keyed by exact string equality.
type CodeSet map[string]struct{}

// Add inserts code and reports whether it was new.
func (s CodeSet) Add(code string) bool {
	if _, ok := s[code]; ok {
		return false
	}
	s[code] = struct{}{}
	return true
}

func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s CodeSet) Len() int { return len(s) }

// Sorted returns the codes in lexical order for stable output.
func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Stats describes how a run went, so callers can tell "no codes on screen"
// apart from "every frame failed".
type Stats struct {
	FramesRead          int
	FramesSampled       int
	FramesWithCodes     int
	EncodeFailures      int
	RecognitionFailures int
}

// Failed is the number of sampled frames that contributed nothing because of an error.
func (s Stats) Failed() int { return s.EncodeFailures + s.RecognitionFailures }

// AllFailed is true when frames were sampled and none of them was processed successfully.
func (s Stats) AllFailed() bool { return s.FramesSampled > 0 && s.Failed() == s.FramesSampled }

// Result is the outcome of one extraction.
type Result struct {
	Codes CodeSet
	// FirstSeen maps each code to the earliest timestamp (seconds) it was recognized at.
	FirstSeen map[string]float64
	Stats     Stats
}

func newResult() *Result {
	return &Result{Codes: CodeSet{}, FirstSeen: map[string]float64{}}
}

func (r *Result) add(code string, at float64) bool {
	if prev, ok := r.FirstSeen[code]; !ok || at < prev {
		r.FirstSeen[code] = at
	}
	return r.Codes.Add(code)
}

// State is a phase of an extraction run.
type State int

const (
	StateIdle State = iota
	StateSampling
	StateProcessing
	StateMerging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateProcessing:
		return "processing"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
