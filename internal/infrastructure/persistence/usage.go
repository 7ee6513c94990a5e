package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/infrastructure/llm"
	"github.com/prismgate/prismgate/internal/infrastructure/monitoring"
	"github.com/prismgate/prismgate/pkg/safego"
)

// UsageRecord is one row in the cost ledger: token counts and estimated
// spend for a single completion.
type UsageRecord struct {
	ID               uint      `gorm:"primaryKey"`
	Provider         string    `gorm:"index;size:32"`
	Model            string    `gorm:"index;size:128"`
	PromptTokens     int       `gorm:"not null"`
	CompletionTokens int       `gorm:"not null"`
	TotalTokens      int       `gorm:"not null"`
	CostUSD          float64   `gorm:"not null"`
	CreatedAt        time.Time `gorm:"index"`
}

// UsageLedger persists usage records off the request path and mirrors
// token and cost totals into metrics. Implements service.UsageSink.
type UsageLedger struct {
	db      *gorm.DB // nil disables persistence, metrics still flow
	metrics *monitoring.Metrics
	records chan UsageRecord
	logger  *zap.Logger
}

// NewUsageLedger starts the background writer. The writer drains until
// ctx is cancelled.
func NewUsageLedger(ctx context.Context, db *gorm.DB, metrics *monitoring.Metrics, logger *zap.Logger) *UsageLedger {
	l := &UsageLedger{
		db:      db,
		metrics: metrics,
		records: make(chan UsageRecord, 256),
		logger:  logger.With(zap.String("component", "usage-ledger")),
	}
	safego.Go(logger, "usage-writer", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case record := <-l.records:
				l.write(record)
			}
		}
	})
	return l
}

// RecordUsage queues one completion's usage. Never blocks: if the buffer
// is full the record is dropped with a warning, the request path wins.
func (l *UsageLedger) RecordUsage(provider, model string, usage entity.Usage) {
	inputRate, outputRate := llm.Pricing(model)
	cost := float64(usage.PromptTokens)/1e6*inputRate + float64(usage.CompletionTokens)/1e6*outputRate

	if l.metrics != nil {
		l.metrics.TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
		l.metrics.TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
		if cost > 0 {
			l.metrics.CostUSDTotal.WithLabelValues(provider, model).Add(cost)
		}
	}

	if l.db == nil {
		return
	}

	record := UsageRecord{
		Provider:         provider,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.Total(),
		CostUSD:          cost,
		CreatedAt:        time.Now().UTC(),
	}
	select {
	case l.records <- record:
	default:
		l.logger.Warn("usage ledger buffer full, dropping record",
			zap.String("provider", provider),
			zap.String("model", model),
		)
	}
}

func (l *UsageLedger) write(record UsageRecord) {
	if err := l.db.Create(&record).Error; err != nil {
		l.logger.Error("usage record write failed", zap.Error(err))
	}
}

// Totals reports aggregate spend per provider since the given time, for
// the providers status endpoint.
func (l *UsageLedger) Totals(since time.Time) (map[string]float64, error) {
	if l.db == nil {
		return map[string]float64{}, nil
	}

	type row struct {
		Provider string
		Cost     float64
	}
	var rows []row
	err := l.db.Model(&UsageRecord{}).
		Select("provider, sum(cost_usd) as cost").
		Where("created_at >= ?", since).
		Group("provider").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64, len(rows))
	for _, r := range rows {
		totals[r.Provider] = r.Cost
	}
	return totals, nil
}
