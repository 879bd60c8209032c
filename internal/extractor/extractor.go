package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/manifest-network/eventstream/internal/classify"
	"github.com/manifest-network/eventstream/internal/client"
	"github.com/manifest-network/eventstream/internal/config"
	"github.com/manifest-network/eventstream/internal/metrics"
	"github.com/manifest-network/eventstream/internal/models"
	"github.com/manifest-network/eventstream/internal/output"
	"github.com/manifest-network/eventstream/internal/stream"
	"github.com/manifest-network/eventstream/internal/utils"
)

const reconnectJitterPercent = 10

// Deps are the collaborators of Run.
type Deps struct {
	Fetcher    Fetcher
	Subscriber stream.Subscriber
	Output     output.OutputHandler
	// GRPC is required by cfg.FromEarliest.
	GRPC *client.GRPCClient
	// Metrics and Progress are optional.
	Metrics  *metrics.Metrics
	Progress io.Writer
}

// Run streams the configured range to the output until the upper bound is written, ctx is done
// or a source fails.
func Run(ctx context.Context, cfg config.StreamConfig, deps Deps) error {
	from, err := startHeight(ctx, cfg, deps)
	if err != nil {
		return err
	}
	rng := stream.Range{From: from, To: cfg.To}
	if err := rng.Validate(); err != nil {
		slog.Info("Nothing to stream, output is past the requested range", "from", from, "to", cfg.To)
		return nil
	}

	backoff := reconnectBackoff(cfg)

	var observer stream.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	bar := &progress{w: deps.Progress}
	defer bar.finish()
	onPlan := func(p stream.Plan) {
		if deps.Metrics != nil {
			deps.Metrics.Plan(p)
		}
		slog.Info("Streaming", "range", rng.String(), "current", p.Current, "historical", p.NeedHistorical, "live", p.NeedLive)
		bar.start(p)
	}

	slog.Info("Starting stream", "range", rng.String(), "headers", cfg.Headers)
	if cfg.Headers {
		mux := &stream.Multiplexer[*models.BlockHeader]{
			CurrentHeight: deps.Fetcher.CurrentHeight,
			HeightOf:      (*models.BlockHeader).GetHeight,
			Historical:    stream.Paginate(cfg.PageSize, (*models.BlockHeader).GetHeight, HeaderPages(deps.Fetcher)),
			BufferSize:    cfg.BufferSize,
			Observer:      observer,
			OnPlan:        onPlan,
		}
		mux.Live = (&stream.LiveSource[*models.BlockHeader]{
			Subscriber: deps.Subscriber,
			Query:      newBlockHeaderQuery,
			Accept:     classify.KindNewBlockHeader,
			Convert:    LiveHeader,
			Backoff:    backoff,
			Observer:   observer,
		}).Run
		return mux.Merge(ctx, rng, writer[*models.BlockHeader](deps, bar))
	}

	opts := BlockOptions{
		SkipEmpty:      cfg.SkipEmpty,
		Filter:         Filter{BlockEvents: cfg.BlockEventTypes, TxEvents: cfg.TxEventTypes},
		MaxConcurrency: cfg.MaxConcurrency,
	}
	mux := &stream.Multiplexer[*models.StreamBlock]{
		CurrentHeight: deps.Fetcher.CurrentHeight,
		HeightOf:      (*models.StreamBlock).GetHeight,
		Historical:    stream.Paginate(cfg.PageSize, (*models.StreamBlock).GetHeight, BlockPages(deps.Fetcher, opts)),
		BufferSize:    cfg.BufferSize,
		Observer:      observer,
		OnPlan:        onPlan,
	}
	mux.Live = (&stream.LiveSource[*models.StreamBlock]{
		Subscriber: deps.Subscriber,
		Query:      newBlockQuery,
		Accept:     classify.KindNewBlock,
		Convert:    LiveBlock(deps.Fetcher, opts),
		Backoff:    backoff,
		Observer:   observer,
	}).Run
	return mux.Merge(ctx, rng, writer[*models.StreamBlock](deps, bar))
}

// writer hands each emitted record to the output.
func writer[T models.Record](deps Deps, bar *progress) stream.EmitFunc[T] {
	return func(ctx context.Context, record T) error {
		started := time.Now()
		err := deps.Output.Write(ctx, record)
		if deps.Metrics != nil {
			deps.Metrics.ObserveWrite(started, err)
		}
		if err != nil {
			return err
		}
		bar.update(record.GetHeight())
		return nil
	}
}

// startHeight resolves where the stream begins: the configured height, the node's earliest
// available height, or the block after the last one the output stored.
func startHeight(ctx context.Context, cfg config.StreamConfig, deps Deps) (uint64, error) {
	switch {
	case cfg.FromEarliest:
		if deps.GRPC == nil {
			return 0, fmt.Errorf("from-earliest requires a gRPC connection")
		}
		earliest, err := utils.EarliestHeight(deps.GRPC, cfg.MaxRetries)
		if err != nil {
			return 0, err
		}
		slog.Info("Starting from the earliest available height", "height", earliest)
		return earliest, nil
	case cfg.Resume && cfg.From == 0:
		resumer, ok := deps.Output.(output.Resumer)
		if !ok {
			slog.Warn("Output cannot resume, starting from the beginning")
			return 0, nil
		}
		kind := models.KindBlock
		if cfg.Headers {
			kind = models.KindHeader
		}
		latest, err := resumer.LatestHeight(ctx, kind)
		if err != nil {
			return 0, fmt.Errorf("failed to get resume height: %w", err)
		}
		if latest == 0 {
			return 0, nil
		}
		slog.Info("Resuming after the last stored height", "height", latest)
		return latest + 1, nil
	default:
		return cfg.From, nil
	}
}

// reconnectBackoff builds the live reconnect strategy. Zero attempts makes a lost connection fatal.
// The delay must be positive, which StreamConfig.Validate enforces.
func reconnectBackoff(cfg config.StreamConfig) func() retry.Backoff {
	if cfg.ReconnectAttempts == 0 {
		return nil
	}
	return func() retry.Backoff {
		b := retry.NewExponential(cfg.ReconnectDelay)
		b = retry.WithCappedDuration(cfg.ReconnectMaxDelay, b)
		b = retry.WithJitterPercent(reconnectJitterPercent, b)
		return retry.WithMaxRetries(uint64(cfg.ReconnectAttempts), b)
	}
}
