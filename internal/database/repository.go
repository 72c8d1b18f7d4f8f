package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const recordColumns = `
	id, organization_id, user_id, request_id, prompt_excerpt,
	prompt_tokens, completion_tokens, model_used, provider, tier,
	complexity_score, cost_usd, latency_ms, cached, savings_usd,
	metadata, created_at`

// Insert stores a cost tracking record.
func (db *DB) Insert(ctx context.Context, rec *models.CostTrackingRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO cost_tracking (`+recordColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, rec.ID, rec.OrganizationID, rec.UserID, rec.RequestID, rec.PromptExcerpt,
		rec.PromptTokens, rec.CompletionTokens, rec.ModelUsed, string(rec.Provider), string(rec.Tier),
		rec.ComplexityScore, rec.CostUSD, rec.LatencyMs, rec.Cached, rec.SavingsUSD,
		metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting cost record: %w", err)
	}
	return nil
}

// ListRecords returns an organization's records created in [from, to],
// oldest first.
func (db *DB) ListRecords(ctx context.Context, orgID string, from, to time.Time) ([]models.CostTrackingRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM cost_tracking
		WHERE organization_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
	`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying cost records: %w", err)
	}
	return scanRecords(rows)
}

// RecentRecords returns an organization's newest records, newest first.
func (db *DB) RecentRecords(ctx context.Context, orgID string, limit int) ([]models.CostTrackingRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM cost_tracking
		WHERE organization_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent cost records: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]models.CostTrackingRecord, error) {
	defer rows.Close()

	results := []models.CostTrackingRecord{}
	for rows.Next() {
		var (
			r              models.CostTrackingRecord
			provider, tier string
		)
		if err := rows.Scan(
			&r.ID, &r.OrganizationID, &r.UserID, &r.RequestID, &r.PromptExcerpt,
			&r.PromptTokens, &r.CompletionTokens, &r.ModelUsed, &provider, &tier,
			&r.ComplexityScore, &r.CostUSD, &r.LatencyMs, &r.Cached, &r.SavingsUSD,
			&r.Metadata, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning cost record: %w", err)
		}
		r.Provider, r.Tier = models.Provider(provider), models.Tier(tier)
		results = append(results, r)
	}
	return results, rows.Err()
}
