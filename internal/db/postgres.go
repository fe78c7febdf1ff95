package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the Docker runtime image.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Zipnet Coordinator")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Zipnet subnet schema initialized")
	return nil
}

// SaveEpoch persists a frozen epoch record. Upsert keeps the call idempotent
// for scheduler restarts inside the same window.
func (s *PostgresStore) SaveEpoch(ctx context.Context, e *models.Epoch) error {
	assignments, err := json.Marshal(e.Zipcodes)
	if err != nil {
		return err
	}
	sql := `
		INSERT INTO epochs (epoch_id, start_at, end_at, status, target_listings, tolerance_pct, nonce, assignments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (epoch_id) DO UPDATE SET status = EXCLUDED.status;
	`
	_, err = s.pool.Exec(ctx, sql, e.EpochID, e.StartAt, e.EndAt, e.Status,
		e.TargetListings, e.TolerancePct, e.Nonce, assignments)
	return err
}

// UpdateEpochStatus transitions an epoch's lifecycle state.
func (s *PostgresStore) UpdateEpochStatus(ctx context.Context, epochID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE epochs SET status = $2 WHERE epoch_id = $1`, epochID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrEpochNotFound
	}
	return nil
}

// GetEpoch loads the full epoch record, honeypot flags included.
func (s *PostgresStore) GetEpoch(ctx context.Context, epochID string) (*models.Epoch, error) {
	sql := `
		SELECT epoch_id, start_at, end_at, status, target_listings, tolerance_pct, nonce, assignments
		FROM epochs WHERE epoch_id = $1
	`
	var e models.Epoch
	var assignments []byte
	err := s.pool.QueryRow(ctx, sql, epochID).Scan(
		&e.EpochID, &e.StartAt, &e.EndAt, &e.Status,
		&e.TargetListings, &e.TolerancePct, &e.Nonce, &assignments)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEpochNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(assignments, &e.Zipcodes); err != nil {
		return nil, err
	}
	return &e, nil
}

// PreviousEpochZipcodes returns the zipcodes issued in the most recent epoch
// starting before the given boundary. This is the cooldown set: those
// zipcodes must not reappear in the immediately following epoch.
func (s *PostgresStore) PreviousEpochZipcodes(ctx context.Context, before time.Time) (map[string]bool, error) {
	sql := `
		SELECT assignments FROM epochs
		WHERE start_at < $1 AND status <> 'aborted'
		ORDER BY start_at DESC LIMIT 1
	`
	var raw []byte
	err := s.pool.QueryRow(ctx, sql, before).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	var assignments []models.ZipcodeAssignment
	if err := json.Unmarshal(raw, &assignments); err != nil {
		return nil, err
	}
	cooldown := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		cooldown[a.Zipcode] = true
	}
	return cooldown, nil
}

// UpsertSubmissionStatus records a miner's progress report. Idempotent: a
// re-sent report lands on the same row.
func (s *PostgresStore) UpsertSubmissionStatus(ctx context.Context, epochID, minerID string, listingsScraped int, uploadComplete bool, status string) error {
	sql := `
		INSERT INTO submission_status (epoch_id, miner_id, listings_scraped, upload_complete, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (epoch_id, miner_id) DO UPDATE SET
			listings_scraped = EXCLUDED.listings_scraped,
			upload_complete = EXCLUDED.upload_complete,
			status = EXCLUDED.status,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, epochID, minerID, listingsScraped, uploadComplete, status)
	return err
}

// SaveEpochResult persists this validator's aggregated result and hash.
func (s *PostgresStore) SaveEpochResult(ctx context.Context, validatorID string, result *models.EpochResult, consensusHash string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	sql := `
		INSERT INTO epoch_results (epoch_id, validator_id, consensus_hash, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (epoch_id) DO UPDATE SET
			validator_id = EXCLUDED.validator_id,
			consensus_hash = EXCLUDED.consensus_hash,
			result = EXCLUDED.result;
	`
	_, err = s.pool.Exec(ctx, sql, result.EpochID, validatorID, consensusHash, raw)
	return err
}

// GetEpochResult loads a stored result for the scores readback endpoint.
func (s *PostgresStore) GetEpochResult(ctx context.Context, epochID string) (*models.EpochResult, string, error) {
	var raw []byte
	var outcome *string
	err := s.pool.QueryRow(ctx,
		`SELECT result, outcome FROM epoch_results WHERE epoch_id = $1`, epochID).Scan(&raw, &outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", models.ErrEpochNotFound
	}
	if err != nil {
		return nil, "", err
	}
	var result models.EpochResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, "", err
	}
	out := ""
	if outcome != nil {
		out = *outcome
	}
	return &result, out, nil
}

// SaveConsensusReport records the cross-validator outcome and the outlier
// set in one transaction. Runs at finalization only.
func (s *PostgresStore) SaveConsensusReport(ctx context.Context, report *models.ConsensusReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE epoch_results SET outcome = $2 WHERE epoch_id = $1`,
		report.EpochID, report.Outcome)
	if err != nil {
		return err
	}

	for _, v := range report.Outliers {
		_, err = tx.Exec(ctx, `
			INSERT INTO consensus_outliers (epoch_id, validator_id, peer_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT (epoch_id, validator_id) DO NOTHING;
		`, report.EpochID, v, report.Hashes[v])
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// MarkWeightsPublished flips the idempotency latch for weight publication.
// Returns false when weights were already published for the epoch.
func (s *PostgresStore) MarkWeightsPublished(ctx context.Context, epochID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE epoch_results SET published = TRUE WHERE epoch_id = $1 AND published = FALSE`, epochID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AdjustMinerCredibility applies the single finalization-time mutation to a
// miner's historical credibility. delta is negative for honeypot hits.
func (s *PostgresStore) AdjustMinerCredibility(ctx context.Context, minerID string, delta float64, honeypotHit bool) error {
	hit := 0
	if honeypotHit {
		hit = 1
	}
	sql := `
		INSERT INTO miner_credibility (miner_id, score, honeypot_hits)
		VALUES ($1, GREATEST(0, LEAST(1, 1.0 + $2)), $3)
		ON CONFLICT (miner_id) DO UPDATE SET
			score = GREATEST(0, LEAST(1, miner_credibility.score + $2)),
			honeypot_hits = miner_credibility.honeypot_hits + $3,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, minerID, delta, hit)
	return err
}

// PoolRow is one curated zipcode pool entry.
type PoolRow struct {
	Zipcode          string
	ExpectedListings int
	MarketTier       string
	IsHoneypot       bool
}

// LoadZipcodePools reads the curated pool from Postgres. An empty table means
// the caller should fall back to the embedded default pool.
func (s *PostgresStore) LoadZipcodePools(ctx context.Context) (eligible, honeypots []PoolRow, err error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zipcode, expected_listings, market_tier, is_honeypot FROM zipcode_pool ORDER BY zipcode`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r PoolRow
		if err := rows.Scan(&r.Zipcode, &r.ExpectedListings, &r.MarketTier, &r.IsHoneypot); err != nil {
			return nil, nil, err
		}
		if r.IsHoneypot {
			honeypots = append(honeypots, r)
		} else {
			eligible = append(eligible, r)
		}
	}
	return eligible, honeypots, rows.Err()
}
