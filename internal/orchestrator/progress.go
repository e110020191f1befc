package orchestrator

import (
	"sync"
	"time"
)

// phaseWeight is one entry of spec.md §4.8's fixed-weight phase table;
// the weights must sum to 100.
type phaseWeight struct {
	name   string
	number int
	weight float64
}

var phaseWeights = []phaseWeight{
	{"Parse", 1, 2},
	{"Prefetch", 2, 18},
	{"Import", 3, 60},
	{"Zoom", 4, 15},
	{"Markers", 5, 5},
}

// Event is one progress report, shaped after spec.md §4.8.
type Event struct {
	Phase          string
	CurrentItem    int
	TotalItems     int
	PhaseNumber    int
	OverallPercent float64
	ElapsedSeconds float64
	ItemsPerSecond float64
}

// Sink receives progress events. A nil Sink means progress is not
// observed; the orchestrator runs identically either way.
type Sink func(Event)

// tracker throttles and weights progress reports across phases,
// generalizing the teacher's worker.Progress (mutex-guarded counters,
// elapsed-time-based rate) to a multi-phase, weighted overall percent.
//
// Throttling (spec.md §4.8): at most one report per 100ms, unless it is
// the first or last item of the current phase, is forced, or at least
// 1% of the phase's items have completed since the last report.
type tracker struct {
	sink  Sink
	start time.Time

	mu             sync.Mutex
	completedPct   float64 // sum of weights of fully-finished phases
	curPhase       string
	lastReportTime time.Time
	lastReportItem int
}

func newTracker(sink Sink) *tracker {
	return &tracker{sink: sink, start: time.Now()}
}

// report emits (or throttles) one event for the named phase. forced
// bypasses throttling.
func (t *tracker) report(phaseName string, current, total int, forced bool) {
	if t.sink == nil {
		return
	}

	pw := weightFor(phaseName)

	t.mu.Lock()
	if t.curPhase != phaseName {
		t.curPhase = phaseName
		t.lastReportTime = time.Time{}
		t.lastReportItem = 0
	}

	isFirst := current == 1
	isLast := total > 0 && current >= total
	onePercentStep := total / 100
	if onePercentStep < 1 {
		onePercentStep = 1
	}
	enoughItemsPassed := current-t.lastReportItem >= onePercentStep
	enoughTimePassed := t.lastReportTime.IsZero() || time.Since(t.lastReportTime) >= 100*time.Millisecond

	if !forced && !isFirst && !isLast && !enoughItemsPassed && !enoughTimePassed {
		t.mu.Unlock()
		return
	}

	phaseFraction := 0.0
	if total > 0 {
		phaseFraction = float64(current) / float64(total)
	}
	overall := t.completedPct + phaseFraction*pw.weight
	if isLast {
		t.completedPct += pw.weight
	}

	t.lastReportTime = time.Now()
	t.lastReportItem = current
	elapsed := t.lastReportTime.Sub(t.start)
	t.mu.Unlock()

	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(current) / elapsed.Seconds()
	}

	t.sink(Event{
		Phase:          phaseName,
		CurrentItem:    current,
		TotalItems:     total,
		PhaseNumber:    pw.number,
		OverallPercent: overall,
		ElapsedSeconds: elapsed.Seconds(),
		ItemsPerSecond: rate,
	})
}

func weightFor(name string) phaseWeight {
	for _, pw := range phaseWeights {
		if pw.name == name {
			return pw
		}
	}
	return phaseWeight{name: name, number: 0, weight: 0}
}
