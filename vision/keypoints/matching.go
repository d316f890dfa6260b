package keypoints

import (
	"math"
	"math/bits"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrFamilyMismatch is returned when two descriptor sets come from different detectors.
var ErrFamilyMismatch = errors.New("descriptor sets come from different detector families")

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	// Ratio is the largest accepted best/second-best distance ratio for float descriptors.
	Ratio float64 `json:"ratio"`
	// MaxMatches caps the number of mutual matches kept for binary descriptors.
	MaxMatches int `json:"max_matches"`
}

// DefaultMatchingConfig returns a 0.7 ratio test and at most 500 binary matches.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{Ratio: 0.7, MaxMatches: 500}
}

// Validate ensures all parts of the config are valid.
func (cfg *MatchingConfig) Validate() error {
	if cfg.Ratio <= 0 || cfg.Ratio > 1 {
		return errors.Errorf("matching ratio should be in (0, 1], got %v", cfg.Ratio)
	}
	if cfg.MaxMatches <= 0 {
		return errors.Errorf("matching max_matches should be > 0, got %d", cfg.MaxMatches)
	}
	return nil
}

// Match pairs a query keypoint with a train keypoint.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

// MatchFeatures matches query against train using the discipline of their descriptor kind:
// nearest-ratio matching for float descriptors and mutual nearest matching for binary ones.
// Empty inputs produce no matches.
func MatchFeatures(query, train *Features, cfg *MatchingConfig) ([]Match, error) {
	if cfg == nil {
		cfg = DefaultMatchingConfig()
	}
	if query == nil || train == nil || query.Len() == 0 || train.Len() == 0 {
		return []Match{}, nil
	}
	if query.Detector != train.Detector || query.Kind != train.Kind {
		return nil, errors.Wrapf(ErrFamilyMismatch, "%s (%s) vs %s (%s)",
			query.Detector, query.Kind, train.Detector, train.Kind)
	}
	switch query.Kind {
	case FloatDescriptor:
		return RatioMatch(query.Float, train.Float, cfg.Ratio), nil
	case BinaryDescriptor:
		return MutualMatch(query.Binary, train.Binary, cfg.MaxMatches), nil
	default:
		return nil, errors.Errorf("unsupported descriptor kind %v", query.Kind)
	}
}

// RatioMatch returns, in query order, the matches whose nearest train descriptor is closer
// than ratio times the second nearest. Queries with fewer than two candidates are dropped.
func RatioMatch(query, train [][]float64, ratio float64) []Match {
	matches := []Match{}
	if len(train) < 2 {
		return matches
	}
	for qi, q := range query {
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for ti, t := range train {
			d := floats.Distance(q, t, 2)
			switch {
			case d < best:
				second = best
				best = d
				bestIdx = ti
			case d < second:
				second = d
			}
		}
		if bestIdx >= 0 && best < ratio*second {
			matches = append(matches, Match{QueryIdx: qi, TrainIdx: bestIdx, Distance: best})
		}
	}
	return matches
}

// HammingDistance counts the differing bits of two codes of equal length.
func HammingDistance(a, b []uint64) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// MutualMatch keeps the pairs that are each other's nearest neighbor under the Hamming
// distance, sorted by ascending distance and truncated to maxMatches.
func MutualMatch(query, train [][]uint64, maxMatches int) []Match {
	matches := []Match{}
	if len(query) == 0 || len(train) == 0 {
		return matches
	}
	bestTrain := make([]int, len(query))
	bestQuery := make([]int, len(train))
	bestQueryDist := make([]int, len(train))
	bestTrainDist := make([]int, len(query))
	for ti := range bestQuery {
		bestQuery[ti] = -1
		bestQueryDist[ti] = math.MaxInt
	}
	for qi, q := range query {
		bestTrain[qi] = -1
		bestTrainDist[qi] = math.MaxInt
		for ti, t := range train {
			d := HammingDistance(q, t)
			if d < bestTrainDist[qi] {
				bestTrainDist[qi] = d
				bestTrain[qi] = ti
			}
			if d < bestQueryDist[ti] {
				bestQueryDist[ti] = d
				bestQuery[ti] = qi
			}
		}
	}
	for qi, ti := range bestTrain {
		if ti >= 0 && bestQuery[ti] == qi {
			matches = append(matches, Match{QueryIdx: qi, TrainIdx: ti, Distance: float64(bestTrainDist[qi])})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if maxMatches > 0 && len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return matches
}

// GetMatchingKeyPoints returns the pixel locations of each match in the query and train images.
func GetMatchingKeyPoints(matches []Match, query, train *Features) ([]r2.Point, []r2.Point, error) {
	pts1 := make([]r2.Point, len(matches))
	pts2 := make([]r2.Point, len(matches))
	for i, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(query.KeyPoints) {
			return nil, nil, errors.Errorf("match %d query index %d out of range", i, m.QueryIdx)
		}
		if m.TrainIdx < 0 || m.TrainIdx >= len(train.KeyPoints) {
			return nil, nil, errors.Errorf("match %d train index %d out of range", i, m.TrainIdx)
		}
		pts1[i] = query.KeyPoints[m.QueryIdx].Point()
		pts2[i] = train.KeyPoints[m.TrainIdx].Point()
	}
	return pts1, pts2, nil
}
