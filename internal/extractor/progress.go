package extractor

import (
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/manifest-network/eventstream/internal/stream"
)

// progress renders a bar for the historical phase of a merge.
type progress struct {
	w io.Writer

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	from uint64
	to   uint64
}

// start opens the bar once the historical range is known. Ranges of a single block get no bar.
func (p *progress) start(plan stream.Plan) {
	if p == nil || p.w == nil || !plan.NeedHistorical || plan.HistoricalTo <= plan.From {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.from, p.to = plan.From, plan.HistoricalTo
	p.bar = progressbar.NewOptions64(
		int64(p.to-p.from+1),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Processing blocks..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	if err := p.bar.RenderBlank(); err != nil {
		slog.Warn("Failed to render progress bar", "error", err)
	}
}

// update moves the bar to height. Heights a source omits are counted as done.
func (p *progress) update(height uint64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if height >= p.to {
		p.finishLocked()
		return
	}
	if err := p.bar.Set64(int64(height - p.from + 1)); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progress) finishLocked() {
	if p.bar == nil {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
	p.bar = nil
}
