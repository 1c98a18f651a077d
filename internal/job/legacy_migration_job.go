package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultMigrationBatch = 50

type legacyMigrator interface {
	MigrateLegacyBatch(ctx context.Context, limit int) (int, error)
}

// LegacyMigrationJob converts one batch of legacy documents per run. Documents
// that fail stay legacy and are picked up again on a later tick.
type LegacyMigrationJob struct {
	migrator legacyMigrator
	batch    int
}

func NewLegacyMigrationJob(migrator legacyMigrator, batch int) *LegacyMigrationJob {
	if batch <= 0 {
		batch = defaultMigrationBatch
	}
	return &LegacyMigrationJob{migrator: migrator, batch: batch}
}

func (j *LegacyMigrationJob) Name() string {
	return "legacy_migration"
}

func (j *LegacyMigrationJob) Run(ctx context.Context) error {
	if j.migrator == nil {
		return nil
	}
	migrated, err := j.migrator.MigrateLegacyBatch(ctx, j.batch)
	if migrated > 0 {
		logutil.GetLogger(ctx).Info("legacy documents migrated", zap.Int("count", migrated))
	}
	return err
}
