package catalog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/tribal-authentica/maskauth/internal/models"
)

// TribalGroups are the groups the mock model can predict
var TribalGroups = []string{"Yoruba", "Dogon", "Dan", "Senufo", "Bamana", "Baule"}

var regions = []string{"West Africa", "Central Africa"}

// Analyzer is a stand-in for the image classification model. It waits for
// the configured delay and returns random predictions.
type Analyzer struct {
	delay time.Duration
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewAnalyzer creates an analyzer. A nil source seeds from the clock.
func NewAnalyzer(delay time.Duration, src rand.Source) *Analyzer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Analyzer{delay: delay, rng: rand.New(src)}
}

// Analyze returns one prediction per region
func (a *Analyzer) Analyze(ctx context.Context) (*models.AnalysisResult, error) {
	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	result := &models.AnalysisResult{Predictions: make([]models.Prediction, 0, len(regions))}
	for _, region := range regions {
		result.Predictions = append(result.Predictions, models.Prediction{
			TribalGroup: TribalGroups[a.rng.Intn(len(TribalGroups))],
			Region:      region,
			// whole percent in [0, 100]
			Probability: float64(a.rng.Intn(101)) / 100,
		})
	}
	return result, nil
}
