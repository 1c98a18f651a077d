package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	defaultSweepBatch = 500
	maxSweepRounds    = 20
)

type tokenSweeper interface {
	SweepShareTokens(ctx context.Context, limit int) (int, error)
}

// TokenSweepJob marks expired, exhausted and revoked share tokens inactive so
// they drop out of listing queries.
type TokenSweepJob struct {
	sweeper tokenSweeper
	batch   int
}

func NewTokenSweepJob(sweeper tokenSweeper, batch int) *TokenSweepJob {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &TokenSweepJob{sweeper: sweeper, batch: batch}
}

func (j *TokenSweepJob) Name() string {
	return "share_token_sweep"
}

func (j *TokenSweepJob) Run(ctx context.Context) error {
	if j.sweeper == nil {
		return nil
	}
	total := 0
	for round := 0; round < maxSweepRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.sweeper.SweepShareTokens(ctx, j.batch)
		total += n
		if err != nil {
			return err
		}
		if n < j.batch {
			break
		}
	}
	if total > 0 {
		logutil.GetLogger(ctx).Info("share tokens swept", zap.Int("count", total))
	}
	return nil
}
