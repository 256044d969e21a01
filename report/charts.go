package report

import (
	"math"
	"sort"

	"cardiovision/ml"
)

// RiskCount splits a group of patients by predicted label.
type RiskCount struct {
	Label    string `json:"label"`
	HighRisk int    `json:"highRisk"`
	LowRisk  int    `json:"lowRisk"`
}

func (c *RiskCount) add(label ml.RiskLabel) {
	if label == ml.HighRisk {
		c.HighRisk++
	} else {
		c.LowRisk++
	}
}

// Point is one scatter sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Charts holds the aggregates the results page renders.
type Charts struct {
	Total              int                `json:"total"`
	Overall            RiskCount          `json:"overall"`
	AgeRanges          []RiskCount        `json:"ageRanges"`
	BySex              []RiskCount        `json:"bySex"`
	ByChestPainType    []RiskCount        `json:"byChestPainType"`
	BySTSlope          []RiskCount        `json:"byStSlope"`
	ByExerciseAngina   []RiskCount        `json:"byExerciseAngina"`
	CholesterolVsMaxHR map[string][]Point `json:"cholesterolVsMaxHr"`
}

type ageBucket struct {
	label  string
	lo, hi float64
}

var ageBuckets = []ageBucket{
	{"0 - 10", 0, 10},
	{"11 - 20", 11, 20},
	{"21 - 30", 21, 30},
	{"31 - 40", 31, 40},
	{"41 - 50", 41, 50},
	{"51 - 60", 51, 60},
	{"61 - 70", 61, 70},
	{"71 - 80", 71, 80},
	{"81 - 90", 81, 90},
	{">90", 91, math.Inf(1)},
}

// ageIndex truncates fractional ages so 10.5 lands in "0 - 10". Negative
// ages are not bucketed.
func ageIndex(age float64) int {
	if age < 0 || math.IsNaN(age) {
		return -1
	}
	whole := math.Floor(age)
	for i, b := range ageBuckets {
		if whole >= b.lo && whole <= b.hi {
			return i
		}
	}
	return -1
}

// BuildCharts aggregates predicted rows into chart series.
func BuildCharts(rows []Row) Charts {
	charts := Charts{
		Total:     len(rows),
		Overall:   RiskCount{Label: "All"},
		AgeRanges: make([]RiskCount, len(ageBuckets)),
		CholesterolVsMaxHR: map[string][]Point{
			ml.HighRisk.String(): {},
			ml.LowRisk.String():  {},
		},
	}
	for i, b := range ageBuckets {
		charts.AgeRanges[i].Label = b.label
	}

	bySex := newGrouping()
	byPain := newGrouping()
	bySlope := newGrouping()
	byAngina := newGrouping()

	for _, row := range rows {
		r := row.Record
		charts.Overall.add(row.Label)
		if i := ageIndex(r.Age); i >= 0 {
			charts.AgeRanges[i].add(row.Label)
		}
		bySex.add(r.Sex, row.Label)
		byPain.add(r.ChestPainType, row.Label)
		bySlope.add(r.STSlope, row.Label)
		byAngina.add(r.ExerciseAngina, row.Label)

		key := row.Label.String()
		charts.CholesterolVsMaxHR[key] = append(charts.CholesterolVsMaxHR[key], Point{X: r.Cholesterol, Y: r.MaxHR})
	}

	charts.BySex = bySex.counts()
	charts.ByChestPainType = byPain.counts()
	charts.BySTSlope = bySlope.counts()
	charts.ByExerciseAngina = byAngina.counts()
	return charts
}

type grouping map[string]*RiskCount

func newGrouping() grouping { return make(grouping) }

func (g grouping) add(key string, label ml.RiskLabel) {
	c, ok := g[key]
	if !ok {
		c = &RiskCount{Label: key}
		g[key] = c
	}
	c.add(label)
}

// counts returns the groups sorted by key.
func (g grouping) counts() []RiskCount {
	out := make([]RiskCount, 0, len(g))
	for _, c := range g {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
