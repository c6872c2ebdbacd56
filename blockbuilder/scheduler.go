package blockbuilder

import (
	"context"
	"time"

	"github.com/intmax2/rollup-node/intlog"
)

// RunScheduler drives the phase cycle forever: Pausing -> Accepting (for
// acceptingDuration) -> Proposing (for proposingDuration, during which
// PostBlock is expected to be called by the HTTP handlers) -> Pausing. If
// Proposing times out without a successful PostBlock, the scheduler forces
// the machine back to Pausing so the next cycle can start cleanly.
func (b *Builder) RunScheduler(ctx context.Context) {
	log := intlog.For("block-builder")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.BeginAccepting(); err != nil {
			log.WithField("err", err).Warn("failed to begin accepting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.acceptingDuration):
		}

		if _, err := b.ConstructBlock(); err != nil {
			log.WithField("err", err).Warn("failed to construct block")
			b.forcePause()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.proposingDuration):
		}

		b.mu.Lock()
		stillProposing := b.phase == PhaseProposing
		b.mu.Unlock()
		if stillProposing {
			log.Warn("proposing window expired with no posted block")
			b.forcePause()
		}
	}
}

func (b *Builder) forcePause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phase = PhasePausing
}
