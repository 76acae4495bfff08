package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/provenance/eventstore"
	"example.com/backstage/services/provenance/internal/analyzer"
	"example.com/backstage/services/provenance/utils"
)

// ErrUpstream is returned when the analyzer fails
var ErrUpstream = errors.New("upstream service failed")

// Analyzer scores a current image against a baseline
type Analyzer interface {
	Analyze(ctx context.Context, baseline, current string) (analyzer.Analysis, error)
}

// IntegrityCheckCommand compares current views with the batch baselines
type IntegrityCheckCommand struct {
	BatchID         string `json:"batchId" validate:"required,batch_id"`
	FirstViewImage  string `json:"firstViewImage" validate:"required_without=SecondViewImage,max=2048"`
	SecondViewImage string `json:"secondViewImage" validate:"max=2048"`
}

// IntegrityResult holds the per-view analyses and the overall verdict,
// which is the lowest score of the checked views
type IntegrityResult struct {
	BatchID    string             `json:"batchId"`
	FirstView  *analyzer.Analysis `json:"firstView,omitempty"`
	SecondView *analyzer.Analysis `json:"secondView,omitempty"`
	Score      float64            `json:"score"`
	Risk       analyzer.Risk      `json:"risk"`
	Passed     bool               `json:"passed"`
}

// IntegrityHandler runs integrity checks through the analyzer
type IntegrityHandler struct {
	store    eventstore.Store
	analyzer Analyzer
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(store eventstore.Store, a Analyzer) *IntegrityHandler {
	return &IntegrityHandler{store: store, analyzer: a}
}

// HandleIntegrityCheck analyzes each supplied view against its baseline
func (h *IntegrityHandler) HandleIntegrityCheck(ctx context.Context, cmd IntegrityCheckCommand) (IntegrityResult, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return IntegrityResult{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	batch, err := h.store.GetBatch(ctx, cmd.BatchID)
	if err != nil {
		return IntegrityResult{}, err
	}

	result := IntegrityResult{BatchID: batch.ID}
	g, gctx := errgroup.WithContext(ctx)
	if cmd.FirstViewImage != "" {
		g.Go(func() error {
			a, err := h.analyzer.Analyze(gctx, batch.BaselineFirstView, cmd.FirstViewImage)
			if err != nil {
				return fmt.Errorf("%w: first view: %w", ErrUpstream, err)
			}
			result.FirstView = &a
			return nil
		})
	}
	if cmd.SecondViewImage != "" {
		g.Go(func() error {
			a, err := h.analyzer.Analyze(gctx, batch.BaselineSecondView, cmd.SecondViewImage)
			if err != nil {
				return fmt.Errorf("%w: second view: %w", ErrUpstream, err)
			}
			result.SecondView = &a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IntegrityResult{}, err
	}

	result.Score = math.Inf(1)
	for _, a := range []*analyzer.Analysis{result.FirstView, result.SecondView} {
		if a != nil && a.AggregateTIS < result.Score {
			result.Score = a.AggregateTIS
		}
	}
	result.Risk = analyzer.Classify(result.Score)
	result.Passed = result.Score >= analyzer.ModerateScore

	log.Info().
		Str("batch_id", batch.ID).
		Float64("score", result.Score).
		Str("risk", string(result.Risk)).
		Msg("Integrity check completed")
	return result, nil
}
