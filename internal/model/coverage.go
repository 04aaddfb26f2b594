package model

import "math"

type CounterType string

const (
	CounterInstruction CounterType = "INSTRUCTION"
	CounterBranch      CounterType = "BRANCH"
	CounterLine        CounterType = "LINE"
	CounterComplexity  CounterType = "COMPLEXITY"
	CounterMethod      CounterType = "METHOD"
	CounterClass       CounterType = "CLASS"
)

// CounterTypes is the fixed set of counters, in display order.
var CounterTypes = []CounterType{
	CounterInstruction,
	CounterBranch,
	CounterLine,
	CounterComplexity,
	CounterMethod,
	CounterClass,
}

func (t CounterType) Known() bool {
	for _, known := range CounterTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Counter struct {
	Missed     int64   `json:"missed"`
	Covered    int64   `json:"covered"`
	Percentage float64 `json:"percentage"`
}

// Percent returns covered/(covered+missed)*100 rounded to two decimals,
// or 0 when nothing was counted.
func Percent(missed, covered int64) float64 {
	total := missed + covered
	if total <= 0 || covered <= 0 {
		return 0
	}
	p := float64(covered) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return Round2(p)
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type CoverageReport struct {
	Counters map[CounterType]Counter `json:"counters"`
	NoData   bool                    `json:"no_data"`
	Name     string                  `json:"name,omitempty"`
}

func NewCoverageReport() *CoverageReport {
	return &CoverageReport{Counters: make(map[CounterType]Counter, len(CounterTypes))}
}

// Add accumulates missed/covered for a counter type and refreshes its
// percentage. Unknown types are ignored.
func (r *CoverageReport) Add(t CounterType, missed, covered int64) {
	if !t.Known() || missed < 0 || covered < 0 {
		return
	}
	c := r.Counters[t]
	c.Missed += missed
	c.Covered += covered
	c.Percentage = Percent(c.Missed, c.Covered)
	r.Counters[t] = c
}

func (r *CoverageReport) Percentage(t CounterType) float64 {
	if r == nil {
		return 0
	}
	return r.Counters[t].Percentage
}

// Delta maps each counter type to the percentage change since the previous
// snapshot. A nil Delta means no previous snapshot was available.
type Delta map[CounterType]float64
