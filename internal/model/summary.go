package model

import "math"

// LapSummary holds the aggregates computed over a lap's physics stream
// before create_lap_summary is posted (spec §4.7 step 3d).
type LapSummary struct {
	MaxSpeedKMH float64
	AvgSpeedKMH float64
	MinSpeedKMH float64

	MaxRPM float64
	AvgRPM float64

	AvgThrottle float64
	AvgBrake    float64

	MaxTyreTempC [4]float64

	FuelUsed      float64
	TotalDistance float64
}

// Summarize computes a LapSummary from a lap's recorded physics samples.
// It is pure: it reads samples, it does not mutate the Lap.
func Summarize(samples []PhysicsSample) LapSummary {
	var s LapSummary
	if len(samples) == 0 {
		return s
	}

	s.MinSpeedKMH = samples[0].SpeedKMH
	var speedSum, rpmSum, throttleSum, brakeSum float64
	var dist float64
	var maxTyre [4]float64

	for i, p := range samples {
		if p.SpeedKMH > s.MaxSpeedKMH {
			s.MaxSpeedKMH = p.SpeedKMH
		}
		if p.SpeedKMH < s.MinSpeedKMH {
			s.MinSpeedKMH = p.SpeedKMH
		}
		speedSum += p.SpeedKMH

		if p.RPM > s.MaxRPM {
			s.MaxRPM = p.RPM
		}
		rpmSum += p.RPM

		throttleSum += p.Throttle
		brakeSum += p.Brake

		for w := 0; w < 4; w++ {
			if p.TyreTempC[w] > maxTyre[w] {
				maxTyre[w] = p.TyreTempC[w]
			}
		}

		if i > 0 {
			dist += euclidean3D(samples[i-1], p)
		}
	}

	n := float64(len(samples))
	s.AvgSpeedKMH = speedSum / n
	s.AvgRPM = rpmSum / n
	s.AvgThrottle = throttleSum / n
	s.AvgBrake = brakeSum / n
	s.MaxTyreTempC = maxTyre
	s.TotalDistance = dist

	fuelUsed := samples[0].FuelKG - samples[len(samples)-1].FuelKG
	if fuelUsed < 0 {
		fuelUsed = 0
	}
	s.FuelUsed = fuelUsed

	return s
}

func euclidean3D(a, b PhysicsSample) float64 {
	dx := b.PositionX - a.PositionX
	dy := b.PositionY - a.PositionY
	dz := b.PositionZ - a.PositionZ
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
