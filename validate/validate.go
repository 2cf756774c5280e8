// Package validate scores candidate pointer paths against the live target:
// once per path for ranking, and repeatedly over a window for stability.
package validate

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ptrtrail/deepread"
	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/resolve"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/agnivade/levenshtein"
)

// Scores assigned by Validate
const (
	ScoreExact     = 100
	ScoreSubstring = 80
	ScoreUnrelated = 10
)

// Result is the outcome of validating one path. Failures are recorded in
// Error and never abort the batch.
type Result struct {
	Path            pointerpath.PointerPath
	Address         process.ProcessMemoryAddress
	Resolved        bool
	Text            string
	Expected        string
	MatchesExpected bool
	Valid           bool
	Score           int
	ResponseTime    time.Duration
	Error           string
}

// Validator resolves and deep-reads paths through the injected collaborators
type Validator struct {
	resolver  *resolve.Resolver
	reader    *deepread.Reader
	threshold int
	tolerance int
	log       *logger.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithSimilarityThreshold sets the edit-distance similarity (0-100) at or above
// which an inexact match is still accepted as valid
func WithSimilarityThreshold(pct int) Option {
	return func(v *Validator) {
		v.threshold = pct
	}
}

// WithValueTolerance sets how many distinct values a stable path may show
func WithValueTolerance(n int) Option {
	return func(v *Validator) {
		v.tolerance = n
	}
}

func New(resolver *resolve.Resolver, reader *deepread.Reader, options ...Option) *Validator {
	v := &Validator{
		resolver:  resolver,
		reader:    reader,
		threshold: 50,
		tolerance: 3,
		log:       logger.NewLogger(coloransi.Color(coloransi.Magenta, coloransi.ColorOrange, "validate")),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Validate resolves and reads every path and returns the results ranked by
// score, best first. expected may be empty. On cancellation the results
// gathered so far are returned with the context error.
func (v *Validator) Validate(ctx context.Context, proc process.Process, paths []pointerpath.PointerPath, expected string) ([]Result, error) {
	modules, err := proc.Modules()
	if err != nil {
		v.log.Debugln("module table unavailable:", err)
	}

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			rank(results)
			return results, err
		}
		results = append(results, v.validateOne(proc, modules, path, expected))
	}

	rank(results)
	v.log.Infoln("Validated", len(results), "paths")
	return results, nil
}

func rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func (v *Validator) validateOne(proc process.Process, modules []process.Module, path pointerpath.PointerPath, expected string) Result {
	result := Result{Path: path, Expected: expected}
	start := time.Now()
	defer func() {
		result.ResponseTime = time.Since(start)
	}()

	addr, ok := v.resolver.Resolve(proc, modules, path)
	if !ok {
		result.Error = "path did not resolve"
		return result
	}
	result.Address = addr
	result.Resolved = true

	text := v.reader.ReadString(proc, addr)
	result.Text = text
	if text == "" {
		result.Error = "no text at resolved address"
		return result
	}

	if expected == "" {
		result.Valid = deepread.IsPlausibleText(text)
		result.Score = QualityScore(text, path)
		return result
	}

	switch {
	case text == expected:
		result.Score = ScoreExact
		result.MatchesExpected = true
	case strings.Contains(text, expected) || strings.Contains(expected, text):
		result.Score = ScoreSubstring
		result.MatchesExpected = true
	default:
		sim := Similarity(text, expected)
		if sim < v.threshold {
			result.Score = ScoreUnrelated
			result.Error = "expected text not found"
			return result
		}
		result.Score = min(sim, ScoreSubstring-1)
	}
	result.Valid = true
	return result
}

// Similarity is the normalized edit-distance similarity of a and b, 0 to 100
func Similarity(a, b string) int {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return int((1 - float64(d)/float64(maxLen)) * 100)
}

// QualityScore rates text read through path when no expected value is known.
// Plausible text, a reasonable length, a short chain and a module root each
// add points.
func QualityScore(text string, path pointerpath.PointerPath) int {
	score := 0
	if deepread.IsPlausibleText(text) {
		score += 30
	}
	if n := utf8.RuneCountInString(text); n >= 3 && n <= 200 {
		score += 20
	}

	hops := max(path.Depth(), 1)
	score += max(0, 30-5*(hops-1))

	if !path.IsExternal() {
		score += 20
	}
	return min(score, 100)
}
