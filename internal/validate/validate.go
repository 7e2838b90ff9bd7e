// Package validate evaluates a Closed lap against the rule set in spec
// §4.5 and yields a pure ValidationReport. The Validator mutates no
// shared state — it is grounded on the teacher's
// EmergencySystem.checkSystemHealth (failsafe/emergency.go), which runs
// the same shape of fixed, independent health checks accumulated into
// one report.
package validate

import (
	"math"

	"github.com/PossumXI/Asgard/Herbie/internal/config"
	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"gonum.org/v1/gonum/stat"
)

// Result enumerates the possible validation outcomes (spec §4.5).
type Result string

const (
	ResultValid             Result = "valid"
	ResultInsufficientData  Result = "insufficient_data"
	ResultInvalidDuration   Result = "invalid_duration"
	ResultInvalidDistance   Result = "invalid_distance"
	ResultDataGaps          Result = "data_gaps"
	ResultInvalidOutliers   Result = "invalid_outliers"
	ResultInvalidIncomplete Result = "invalid_incomplete"
	ResultInvalidPosition   Result = "invalid_position"
)

// Report is the outcome of validating one Closed lap, including the
// numeric quantity each rule observed (spec §4.5).
type Report struct {
	LapNumber int
	Result    Result

	PointCount    int
	Duration      float64
	MaxGap        float64
	OutlierCount  int
	Distance      float64
	Issues        []string
}

// IsValid reports whether the lap passed every rule.
func (r Report) IsValid() bool { return r.Result == ResultValid }

// TrackLengthLookup optionally resolves a known track's length in
// meters, used by the distance-coverage rule. Left nil, the rule falls
// back to the lap's own integrated distance, making it a no-op gate
// (spec §4.5 rule 7, §9 open question: "a hook, not a gate").
type TrackLengthLookup func(track string) (meters float64, ok bool)

// Validator evaluates Closed laps against spec §4.5's seven rules.
type Validator struct {
	cfg        config.Validation
	trackLen   TrackLengthLookup
	history    []Report
	historyCap int
}

// New creates a Validator bound to the given validation thresholds.
func New(cfg config.Validation, lookup TrackLengthLookup) *Validator {
	return &Validator{cfg: cfg, trackLen: lookup, historyCap: 50}
}

// RecentReports returns up to the last N reports, most recent last, for
// operator visibility (SPEC_FULL §9 supplement). Agent.Status() does not
// include them. It does not gate any upload decision.
func (v *Validator) RecentReports() []Report {
	out := make([]Report, len(v.history))
	copy(out, v.history)
	return out
}

// Validate evaluates a Closed lap. Rules 1-2 short-circuit the remainder
// on failure (cheap rejection); rules 3-7 all run to produce a full
// diagnostic bundle (spec §4.5).
func (v *Validator) Validate(track string, lap *model.Lap) Report {
	r := Report{LapNumber: lap.Number, Result: ResultValid, PointCount: len(lap.Physics)}

	// Rule 1: sufficiency.
	if r.PointCount < v.cfg.MinPoints {
		r.Result = ResultInsufficientData
		r.Issues = append(r.Issues, "insufficient telemetry points")
		v.record(r)
		return r
	}

	// Rule 2: duration.
	r.Duration = lap.EndElapsed - lap.StartElapsed
	if r.Duration < v.cfg.MinLapTimeS || r.Duration > v.cfg.MaxLapTimeS {
		r.Result = ResultInvalidDuration
		r.Issues = append(r.Issues, "lap duration out of bounds")
		v.record(r)
		return r
	}

	// Rules 3-7 all evaluate; the first that fails sets Result (later
	// failures still append Issues), matching the teacher's "accumulate a
	// full diagnostic bundle" idiom.
	v.checkPosition(lap, &r)
	v.checkGaps(lap, &r)
	v.checkOutliers(lap, &r)
	v.checkCompleteness(lap, &r)
	v.checkDistanceCoverage(track, lap, &r)

	v.record(r)
	return r
}

func (v *Validator) record(r Report) {
	v.history = append(v.history, r)
	if len(v.history) > v.historyCap {
		v.history = v.history[len(v.history)-v.historyCap:]
	}
}

// Rule 3: position plausibility — fewer than 5% out-of-range or zero.
func (v *Validator) checkPosition(lap *model.Lap, r *Report) {
	invalid := 0
	for _, p := range lap.Physics {
		if isInvalidPosition(p) {
			invalid++
		}
	}
	pct := 100 * float64(invalid) / float64(len(lap.Physics))
	if pct >= 5.0 {
		if r.Result == ResultValid {
			r.Result = ResultInvalidPosition
		}
		r.Issues = append(r.Issues, "too many invalid positions")
	}
}

func isInvalidPosition(p model.PhysicsSample) bool {
	const maxCoord = 1e6
	if p.PositionX == 0 && p.PositionY == 0 && p.PositionZ == 0 {
		return true
	}
	return math.Abs(p.PositionX) > maxCoord || math.Abs(p.PositionY) > maxCoord || math.Abs(p.PositionZ) > maxCoord
}

// Rule 4: gap-freeness — no consecutive-sample delta exceeds max_gap.
func (v *Validator) checkGaps(lap *model.Lap, r *Report) {
	for i := 1; i < len(lap.Physics); i++ {
		gap := lap.Physics[i].ElapsedTime - lap.Physics[i-1].ElapsedTime
		if gap > r.MaxGap {
			r.MaxGap = gap
		}
	}
	if r.MaxGap > v.cfg.MaxGapS {
		if r.Result == ResultValid {
			r.Result = ResultDataGaps
		}
		r.Issues = append(r.Issues, "data gap exceeds max_gap")
	}
}

// Rule 5: outlier bound — speed > mean+2.5sigma AND > threshold; reject
// if >10% of points qualify.
func (v *Validator) checkOutliers(lap *model.Lap, r *Report) {
	speeds := make([]float64, len(lap.Physics))
	for i, p := range lap.Physics {
		speeds[i] = p.SpeedKMH
	}
	mean, std := stat.MeanStdDev(speeds, nil)
	bound := mean + 2.5*std

	count := 0
	for _, s := range speeds {
		if s > bound && s > v.cfg.SpeedOutlierThresholdKMH {
			count++
		}
	}
	r.OutlierCount = count
	pct := 100 * float64(count) / float64(len(speeds))
	if pct > 10.0 {
		if r.Result == ResultValid {
			r.Result = ResultInvalidOutliers
		}
		r.Issues = append(r.Issues, "too many speed outliers")
	}
}

// Rule 6: completeness — fewer than 2% impossible throttle/brake or
// negative speed/RPM.
func (v *Validator) checkCompleteness(lap *model.Lap, r *Report) {
	bad := 0
	for _, p := range lap.Physics {
		if p.Throttle < 0 || p.Throttle > 1 || p.Brake < 0 || p.Brake > 1 || p.SpeedKMH < 0 || p.RPM < 0 {
			bad++
		}
	}
	pct := 100 * float64(bad) / float64(len(lap.Physics))
	if pct >= 2.0 {
		if r.Result == ResultValid {
			r.Result = ResultInvalidIncomplete
		}
		r.Issues = append(r.Issues, "impossible throttle/brake/speed/rpm values")
	}
}

// Rule 7: distance coverage — a hook, not a gate, until a track-length
// source is supplied (spec §4.5 rule 7, §9 open question).
func (v *Validator) checkDistanceCoverage(track string, lap *model.Lap, r *Report) {
	r.Distance = integratedDistance(lap.Physics)

	trackLen := r.Distance
	if v.trackLen != nil {
		if meters, ok := v.trackLen(track); ok {
			trackLen = meters
		}
	}
	if trackLen <= 0 {
		return
	}
	coverage := 100 * r.Distance / trackLen
	if coverage < v.cfg.MinDistancePercentage {
		if r.Result == ResultValid {
			r.Result = ResultInvalidDistance
		}
		r.Issues = append(r.Issues, "insufficient distance coverage")
	}
}

func integratedDistance(points []model.PhysicsSample) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		dx := points[i].PositionX - points[i-1].PositionX
		dy := points[i].PositionY - points[i-1].PositionY
		dz := points[i].PositionZ - points[i-1].PositionZ
		total += math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return total
}
