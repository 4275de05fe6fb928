package telemetry

import (
	"math"
)

// Verdict explains what the accumulator did with a sample.
type Verdict string

const (
	VerdictReference      Verdict = "reference"        // first sample of a session or of a resume
	VerdictMoved          Verdict = "moved"            // accepted, distance added
	VerdictBelowThreshold Verdict = "below_threshold"  // within the minimum movement
	VerdictInvalid        Verdict = "invalid"          // non-finite or out-of-range coordinates
	VerdictInaccurate     Verdict = "inaccurate"       // accuracy worse than allowed
	VerdictOutOfOrder     Verdict = "out_of_order"     // older than the reference
	VerdictImplausible    Verdict = "implausible_jump" // implied speed above the limit
)

// AccumulatorConfig holds the acceptance filter tunables.
type AccumulatorConfig struct {
	MinMovementMeters float64
	EarthRadiusKm     float64
	MaxAccuracyMeters float64 // 0 disables
	MaxSpeedMPS       float64 // 0 disables
}

func DefaultAccumulatorConfig() AccumulatorConfig {
	return AccumulatorConfig{
		MinMovementMeters: 1,
		EarthRadiusKm:     EarthRadiusKm,
		MaxSpeedMPS:       83.3,
	}
}

type Result struct {
	Verdict     Verdict
	Accepted    bool
	IncrementKm float64
	TotalKm     float64
}

// DistanceAccumulator turns an ordered stream of samples into a monotonic
// trip distance. It is not safe for concurrent use; the owner serialises calls.
type DistanceAccumulator struct {
	config         AccumulatorConfig
	reference      *Sample
	needsReference bool
	totalKm        float64
	path           []Sample
	accepted       int
	rejected       int
}

func NewDistanceAccumulator(config AccumulatorConfig) *DistanceAccumulator {
	if config.EarthRadiusKm <= 0 {
		config.EarthRadiusKm = EarthRadiusKm
	}
	if config.MinMovementMeters < 0 {
		config.MinMovementMeters = 0
	}
	return &DistanceAccumulator{config: config, needsReference: true}
}

// Add applies one sample and returns the filter decision.
func (a *DistanceAccumulator) Add(s Sample) Result {
	if !s.Valid() {
		return a.reject(VerdictInvalid)
	}
	if a.config.MaxAccuracyMeters > 0 && s.Accuracy > a.config.MaxAccuracyMeters {
		return a.reject(VerdictInaccurate)
	}

	if a.needsReference || a.reference == nil {
		a.accept(s, 0)
		a.needsReference = false
		return Result{Verdict: VerdictReference, Accepted: true, TotalKm: a.totalKm}
	}

	ref := *a.reference
	if !ref.Timestamp.IsZero() && !s.Timestamp.IsZero() && s.Timestamp.Before(ref.Timestamp) {
		return a.reject(VerdictOutOfOrder)
	}

	km := HaversineKm(ref, s, a.config.EarthRadiusKm)
	meters := km * 1000
	if meters <= a.config.MinMovementMeters {
		return a.reject(VerdictBelowThreshold)
	}

	if a.config.MaxSpeedMPS > 0 && !ref.Timestamp.IsZero() && !s.Timestamp.IsZero() {
		elapsed := s.Timestamp.Sub(ref.Timestamp).Seconds()
		if elapsed <= 0 || meters/elapsed > a.config.MaxSpeedMPS {
			return a.reject(VerdictImplausible)
		}
	}

	increment := math.Max(km, 0)
	a.accept(s, increment)
	return Result{Verdict: VerdictMoved, Accepted: true, IncrementKm: increment, TotalKm: a.totalKm}
}

// Reset makes the next accepted sample a fresh reference point. Accumulated
// distance and path are kept.
func (a *DistanceAccumulator) Reset() {
	a.needsReference = true
}

func (a *DistanceAccumulator) TotalKm() float64 {
	return a.totalKm
}

// Path returns a copy of the accepted samples in order.
func (a *DistanceAccumulator) Path() []Sample {
	return append([]Sample(nil), a.path...)
}

func (a *DistanceAccumulator) FirstAccepted() (Sample, bool) {
	if len(a.path) == 0 {
		return Sample{}, false
	}
	return a.path[0], true
}

func (a *DistanceAccumulator) LastAccepted() (Sample, bool) {
	if a.reference == nil {
		return Sample{}, false
	}
	return *a.reference, true
}

// Stats returns accepted and rejected sample counts.
func (a *DistanceAccumulator) Stats() (accepted, rejected int) {
	return a.accepted, a.rejected
}

func (a *DistanceAccumulator) accept(s Sample, incrementKm float64) {
	a.totalKm += incrementKm
	ref := s
	a.reference = &ref
	a.path = append(a.path, s)
	a.accepted++
}

func (a *DistanceAccumulator) reject(v Verdict) Result {
	a.rejected++
	return Result{Verdict: v, TotalKm: a.totalKm}
}
