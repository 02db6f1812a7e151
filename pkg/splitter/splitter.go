// Package splitter produces rolling forecast-origin splits of a dataset.
//
// For a split point p, the training part holds every period up to and
// including p, the future truth holds the target features after p, and the
// future covariates hold everything else over the same future window.
package splitter

import (
	"fmt"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/period"
)

// Selection chooses which candidate origins are kept when there are more than MaxSplits.
type Selection string

const (
	// SelectEven keeps evenly strided candidates, anchored on the last one.
	SelectEven Selection = "even"
	// SelectLatest keeps the most recent candidates.
	SelectLatest Selection = "latest"
)

// Config controls split generation.
type Config struct {
	MaxSplits      int       // Upper bound on split points (default: 5)
	StartOffset    int       // Periods reserved as minimum history (default: 20)
	Horizon        int       // Future window length; 0 means all remaining periods
	TargetFeatures []string  // Outcome features hidden from covariates (default: disease_cases)
	Selection      Selection // Candidate selection policy (default: even)
}

// DefaultConfig returns the settings used by the evaluation command.
func DefaultConfig() Config {
	return Config{
		MaxSplits:      5,
		StartOffset:    20,
		TargetFeatures: []string{dataset.DiseaseCases},
		Selection:      SelectEven,
	}
}

func (c Config) withDefaults() Config {
	if len(c.TargetFeatures) == 0 {
		c.TargetFeatures = []string{dataset.DiseaseCases}
	}
	if c.Selection == "" {
		c.Selection = SelectEven
	}
	return c
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.MaxSplits < 1 {
		return fmt.Errorf("%w: max splits must be at least 1, got %d", ErrInvalidConfig, c.MaxSplits)
	}
	if c.StartOffset < 0 {
		return fmt.Errorf("%w: start offset must not be negative, got %d", ErrInvalidConfig, c.StartOffset)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("%w: horizon must not be negative, got %d", ErrInvalidConfig, c.Horizon)
	}
	switch c.Selection {
	case "", SelectEven, SelectLatest:
	default:
		return fmt.Errorf("%w: unknown selection %q", ErrInvalidConfig, c.Selection)
	}
	return nil
}

// Split is one (train, future truth, future covariates) triple.
type Split struct {
	SplitPoint       period.Period
	Train            *dataset.DataSet
	FutureTruth      *dataset.DataSet
	FutureCovariates *dataset.DataSet
}

// SplitPoints returns the chosen forecast origins in ascending order.
//
// Candidates are the periods at offsets StartOffset through Len-2, so that
// every origin has at least StartOffset periods of history before it and at
// least one future period after it. With SelectEven the stride is
// floor(candidates/MaxSplits), at least 1, stepping backwards from the last
// candidate; with SelectLatest the stride is 1.
func SplitPoints(r period.Range, cfg Config) ([]period.Period, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := r.Len()
	if cfg.StartOffset > n {
		return nil, &InsufficientHistoryError{StartOffset: cfg.StartOffset, Length: n}
	}
	first, last := cfg.StartOffset, n-2
	if last < first {
		return nil, &InsufficientFutureError{StartOffset: cfg.StartOffset, Length: n}
	}

	count := last - first + 1
	stride := 1
	if cfg.Selection == SelectEven && count > cfg.MaxSplits {
		stride = count / cfg.MaxSplits
	}

	var picked []int
	for i := last; i >= first && len(picked) < cfg.MaxSplits; i -= stride {
		picked = append(picked, i)
	}

	points := make([]period.Period, len(picked))
	for k, i := range picked {
		p, err := r.At(i)
		if err != nil {
			return nil, err
		}
		points[len(picked)-1-k] = p
	}
	return points, nil
}

// Generate builds one split per chosen origin. The dataset must be aligned.
func Generate(ds *dataset.DataSet, cfg Config) ([]Split, error) {
	cfg = cfg.withDefaults()
	r, err := ds.PeriodRange()
	if err != nil {
		return nil, err
	}
	points, err := SplitPoints(r, cfg)
	if err != nil {
		return nil, err
	}

	splits := make([]Split, 0, len(points))
	for _, p := range points {
		s, err := split(ds, r, p, cfg.Horizon, cfg.TargetFeatures)
		if err != nil {
			return nil, fmt.Errorf("split at %s: %w", p, err)
		}
		splits = append(splits, s)
	}
	return splits, nil
}

// TrainTestSplit cuts the dataset once, with the last training period directly
// before predictionStart. A horizon of 0 uses every remaining period.
func TrainTestSplit(ds *dataset.DataSet, predictionStart period.Period, horizon int, targets ...string) (Split, error) {
	if len(targets) == 0 {
		targets = []string{dataset.DiseaseCases}
	}
	r, err := ds.PeriodRange()
	if err != nil {
		return Split{}, err
	}
	if predictionStart.Granularity() != r.Granularity() {
		return Split{}, &period.GranularityMismatchError{Left: r.Granularity(), Right: predictionStart.Granularity()}
	}
	offset := predictionStart.Ordinal() - r.Start().Ordinal()
	origin := predictionStart.Sub(1)
	if !r.Contains(origin) {
		return Split{}, &InsufficientHistoryError{StartOffset: offset, Length: r.Len()}
	}
	if !r.Contains(predictionStart) {
		return Split{}, &InsufficientFutureError{StartOffset: offset, Length: r.Len()}
	}
	return split(ds, r, origin, horizon, targets)
}

func split(ds *dataset.DataSet, r period.Range, p period.Period, horizon int, targets []string) (Split, error) {
	idx, err := r.IndexOf(p)
	if err != nil {
		return Split{}, err
	}
	trainRange, err := r.Slice(0, idx+1)
	if err != nil {
		return Split{}, err
	}
	end := r.Len()
	if horizon > 0 && idx+1+horizon < end {
		end = idx + 1 + horizon
	}
	futureRange, err := r.Slice(idx+1, end)
	if err != nil {
		return Split{}, err
	}

	train, err := ds.RestrictToRange(trainRange, false)
	if err != nil {
		return Split{}, err
	}
	future, err := ds.RestrictToRange(futureRange, false)
	if err != nil {
		return Split{}, err
	}
	truth, err := future.Select(targets...)
	if err != nil {
		return Split{}, err
	}
	return Split{
		SplitPoint:       p,
		Train:            train,
		FutureTruth:      truth,
		FutureCovariates: future.Without(targets...),
	}, nil
}
