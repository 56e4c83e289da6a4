package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

// InsertWithFallback writes full when the capability allows it and retries once with base on any failure.
// An undefined-column failure degrades the capability so later inserts skip the full attempt.
// When both attempts fail the returned error carries both causes.
func InsertWithFallback(ctx context.Context, ins Inserter, capab *Capability, full, base Row, logger *zap.Logger) (uuid.UUID, time.Time, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := capab.Table()

	var errs error
	if capab.Full() {
		id, createdAt, err := ins.InsertRow(ctx, table, full)
		if err == nil {
			return id, createdAt, nil
		}
		errs = multierr.Append(errs, err)
		if IsUndefinedColumn(err) {
			if capab.Degrade() {
				logger.Error("optional columns missing, writing base column set from now on",
					zap.String("table", table), zap.Error(err))
			}
		} else {
			logger.Warn("full insert failed, retrying with base columns", zap.String("table", table), zap.Error(err))
		}
		metrics.SchemaFallbacks.WithLabelValues(table).Inc()
	}

	id, createdAt, err := ins.InsertRow(ctx, table, base)
	if err != nil {
		return uuid.Nil, time.Time{}, multierr.Append(errs, err)
	}
	return id, createdAt, nil
}
