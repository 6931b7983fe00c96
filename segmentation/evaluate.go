// Package segmentation trains and evaluates an ensemble of decoder heads on
// frozen backbone features and selects the best one.
package segmentation

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsawler/cxr-probe/decoder"
	"github.com/tsawler/cxr-probe/distributed"
	"github.com/tsawler/cxr-probe/tensor"
	"github.com/tsawler/cxr-probe/training"
	"github.com/tsawler/cxr-probe/vision/dataloader"
)

// FeatureExtractor produces frozen patch features [B, D, h, w] for images.
type FeatureExtractor interface {
	EmbedDim() int
	Extract(ctx context.Context, images *tensor.Tensor) (*tensor.Tensor, error)
}

// DecoderResult is the metric snapshot of one decoder.
type DecoderResult struct {
	Key     decoder.Key
	Results training.Snapshot
}

// EvalParams configures EvaluateSegmentors.
type EvalParams struct {
	Extractor FeatureExtractor
	Ensemble  *decoder.Ensemble
	Loader    *dataloader.EvalLoader
	Metric    training.Metric // prototype, cloned per decoder
	Iteration int
	RunID     string
	// ForceKey selects that decoder regardless of its score.
	ForceKey string
	Prefix   string
	Results  *ResultsLog
	Dist     distributed.Context
	Logger   *zap.Logger
}

// EvaluateSegmentors runs every decoder over the whole eval set and picks
// the best one by the first metric of the snapshot. The first decoder is the
// initial best; a later one replaces it only with a strictly greater score.
// The main process appends the resulting record to the metrics log.
func EvaluateSegmentors(ctx context.Context, p EvalParams) (Record, []DecoderResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dist := p.Dist
	if dist == nil {
		dist = distributed.Local{}
	}
	logger.Info("running validation", zap.Int("iteration", p.Iteration))

	results, err := inferAll(ctx, p.Extractor, p.Ensemble, p.Loader, p.Metric)
	if err != nil {
		return Record{}, nil, err
	}

	best, err := selectBest(results, p.ForceKey)
	if err != nil {
		return Record{}, nil, err
	}
	for _, r := range results {
		logger.Info(p.Prefix+" -- Segmentor: "+r.Key.String()+" * "+r.Results.String())
	}

	rec := Record{
		Iteration: p.Iteration,
		RunID:     p.RunID,
		BestSegmentor: BestSegmentor{
			Name:    results[best].Key.String(),
			Results: results[best].Results,
		},
	}
	logger.Info("best segmentor", zap.String("name", rec.BestSegmentor.Name),
		zap.Stringer("results", rec.BestSegmentor.Results))

	if err := dist.Synchronize(); err != nil {
		return Record{}, nil, err
	}
	if dist.IsMainProcess() {
		if err := p.Results.Append(rec); err != nil {
			return Record{}, nil, err
		}
	}
	return rec, results, nil
}

func selectBest(results []DecoderResult, forceKey string) (int, error) {
	if len(results) == 0 {
		return 0, errors.New("no decoders to evaluate")
	}
	if forceKey != "" {
		for i, r := range results {
			if r.Key.String() == forceKey {
				return i, nil
			}
		}
		return 0, errors.Errorf("forced decoder %s is not in the ensemble", forceKey)
	}

	best := 0
	bestScore, _ := results[0].Results.Primary()
	for i := 1; i < len(results); i++ {
		score, _ := results[i].Results.Primary()
		if score.Value > bestScore.Value {
			best, bestScore = i, score
		}
	}
	return best, nil
}

// inferAll computes features once per batch and feeds them to every
// decoder: logits are upsampled to the target size, reduced with argmax and
// accumulated in that decoder's own metric.
func inferAll(ctx context.Context, fe FeatureExtractor, ens *decoder.Ensemble, loader *dataloader.EvalLoader, proto training.Metric) ([]DecoderResult, error) {
	metrics := make([]training.Metric, ens.Len())
	for i := range metrics {
		metrics[i] = proto.Clone()
	}

	loader.Reset()
	for {
		batch, err := loader.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to load eval batch")
		}
		if batch.Targets == nil {
			return nil, errors.New("evaluation needs labeled samples")
		}
		features, err := fe.Extract(ctx, batch.Images)
		if err != nil {
			return nil, errors.Wrap(err, "feature extraction failed")
		}
		h, w := batch.Targets.Dim(-2), batch.Targets.Dim(-1)

		err = ens.ForEach(ctx, func(i int, en decoder.Entry) error {
			logits, err := en.Decoder.Forward(features)
			if err != nil {
				return err
			}
			if en.Key.Type == decoder.Linear {
				if logits, err = tensor.ResizeBilinear(logits, h, w); err != nil {
					return err
				}
			}
			preds, err := tensor.ArgmaxChannels(logits)
			if err != nil {
				return err
			}
			return metrics[i].Update(preds, batch.Targets)
		})
		if err != nil {
			return nil, err
		}
	}

	results := make([]DecoderResult, ens.Len())
	for i, en := range ens.Entries() {
		snap, err := metrics[i].Compute()
		if err != nil {
			return nil, errors.Wrapf(err, "decoder %s", en.Key)
		}
		results[i] = DecoderResult{Key: en.Key, Results: snap}
	}
	return results, nil
}
