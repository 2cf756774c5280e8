package validate

import (
	"context"
	"fmt"
	"time"

	"ptrtrail/pointerpath"
	"ptrtrail/process"

	"github.com/samber/lo"
)

// Sample is one resolve-then-read attempt
type Sample struct {
	Time    time.Time
	Address process.ProcessMemoryAddress
	Text    string
	Success bool
	Error   string
}

// StabilityReport reduces a run of samples to percentages and a 0-100 score.
// Address drift weighs as much as value churn, and success counts most.
type StabilityReport struct {
	Path               pointerpath.PointerPath
	Duration           time.Duration
	Samples            []Sample
	SuccessRate        float64
	AddressConsistency float64
	ValueConsistency   float64
	Score              int
}

func (r StabilityReport) String() string {
	return fmt.Sprintf("%s: score %d (success %.0f%%, address %.0f%%, value %.0f%%, %d samples)",
		r.Path, r.Score, r.SuccessRate, r.AddressConsistency, r.ValueConsistency, len(r.Samples))
}

// Stability samples path every interval until duration has elapsed. The first
// sample is taken immediately. Cancellation is observed between samples only;
// the report holds every sample taken so far.
func (v *Validator) Stability(ctx context.Context, proc process.Process, path pointerpath.PointerPath, duration, interval time.Duration) (StabilityReport, error) {
	if interval <= 0 {
		interval = time.Second
	}

	report := StabilityReport{Path: path, Duration: duration}

	modules, err := proc.Modules()
	if err != nil {
		v.log.Debugln("module table unavailable:", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	for {
		report.Samples = append(report.Samples, v.sample(proc, modules, path))
		if !time.Now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			report.reduce(v.tolerance)
			return report, ctx.Err()
		case <-ticker.C:
		}
	}

	report.reduce(v.tolerance)
	v.log.Infoln("Stability", report.String())
	return report, nil
}

func (v *Validator) sample(proc process.Process, modules []process.Module, path pointerpath.PointerPath) Sample {
	s := Sample{Time: time.Now()}

	addr, ok := v.resolver.Resolve(proc, modules, path)
	if !ok {
		s.Error = "path did not resolve"
		return s
	}
	s.Address = addr

	s.Text = v.reader.ReadString(proc, addr)
	s.Success = s.Text != ""
	if !s.Success {
		s.Error = "no text at resolved address"
	}
	return s
}

// reduce computes the report's percentages. With no successful sample both
// consistencies are zero.
func (r *StabilityReport) reduce(tolerance int) {
	r.SuccessRate, r.AddressConsistency, r.ValueConsistency, r.Score = 0, 0, 0, 0
	if len(r.Samples) == 0 {
		return
	}

	ok := lo.Filter(r.Samples, func(s Sample, _ int) bool { return s.Success })
	r.SuccessRate = float64(len(ok)) * 100 / float64(len(r.Samples))

	if len(ok) > 0 {
		addresses := lo.Uniq(lo.Map(ok, func(s Sample, _ int) process.ProcessMemoryAddress { return s.Address }))
		if len(addresses) <= 1 {
			r.AddressConsistency = 100
		}

		values := lo.Uniq(lo.Map(ok, func(s Sample, _ int) string { return s.Text }))
		if len(values) <= tolerance {
			r.ValueConsistency = 100
		} else {
			r.ValueConsistency = max(0, 100-10*float64(len(values)))
		}
	}

	r.Score = int((4*r.SuccessRate + 3*r.AddressConsistency + 3*r.ValueConsistency) / 10)
}
