// Package db is the durable store behind the in-memory graph. Funding
// events are the write of record; everything else in here (edge
// aggregates, assessments, alerts) is derivable or append-only history.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/monitor"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside the Docker runtime image, which does not copy
// internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool and verifies the database is
// reachable.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Int32("maxConns", poolCfg.MaxConns).Msg("connected to postgres")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying connection pool for subsystems that run
// their own queries.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// InitSchema executes the embedded DDL. Safe to run on every boot.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("executing schema migrations: %w", err)
	}
	log.Info().Msg("database schema initialized")
	return nil
}

// SaveEvent persists one accepted funding event. The graph store calls
// this before mutating memory, so a failure here leaves both sides
// consistent. Idempotent on the (source, target, tx_hash) key.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev models.FundingEvent, pre models.PrecheckResult) error {
	flags := pre.Flags
	if flags == nil {
		flags = []string{}
	}
	sql := `
		INSERT INTO funding_events
			(source, target, tx_hash, amount, block_number, gas_used, gas_price,
			 event_time, precheck_score, precheck_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source, target, tx_hash) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql, ev.Source, ev.Target, ev.TxHash, ev.Amount.String(),
		ev.BlockNumber, ev.GasUsed, ev.GasPrice, ev.Timestamp, pre.Score, flags)
	return err
}

// SaveEdge upserts the aggregate for one source→target relationship.
func (s *PostgresStore) SaveEdge(ctx context.Context, edge models.Edge) error {
	sql := `
		INSERT INTO funding_edges
			(source, target, total_amount, tx_count, flagged_count,
			 strength, frequency_score, amount_consistency, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source, target) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			tx_count = EXCLUDED.tx_count,
			flagged_count = EXCLUDED.flagged_count,
			strength = EXCLUDED.strength,
			frequency_score = EXCLUDED.frequency_score,
			amount_consistency = EXCLUDED.amount_consistency,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, edge.Source, edge.Target, edge.TotalAmount,
		edge.TransactionCount, edge.FlaggedCount, edge.Metrics.Strength,
		edge.Metrics.FrequencyScore, edge.Metrics.AmountConsistency,
		edge.FirstSeen, edge.LastSeen)
	return err
}

// ReplayEvents streams every stored funding event in chain order through
// apply, which is expected to be the graph store's replay path. Rows
// that no longer pass validation are logged and skipped so one corrupt
// row cannot hold the whole boot hostage.
func (s *PostgresStore) ReplayEvents(ctx context.Context, apply func(models.FundingEvent) (bool, error)) (int, error) {
	sql := `
		SELECT source, target, tx_hash, amount, block_number, gas_used, gas_price, event_time
		FROM funding_events
		ORDER BY event_time, block_number, tx_hash;
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("querying funding events: %w", err)
	}
	defer rows.Close()

	applied, skipped, scanned := 0, 0, 0
	for rows.Next() {
		var ev models.FundingEvent
		var amount string
		if err := rows.Scan(&ev.Source, &ev.Target, &ev.TxHash, &amount,
			&ev.BlockNumber, &ev.GasUsed, &ev.GasPrice, &ev.Timestamp); err != nil {
			return applied, fmt.Errorf("scanning funding event: %w", err)
		}
		scanned++

		dec, err := decimal.NewFromString(amount)
		if err != nil {
			skipped++
			log.Warn().Err(err).Str("txHash", ev.TxHash).Msg("unparseable amount in stored event, skipping")
			continue
		}
		ev.Amount = dec

		added, err := apply(ev)
		if err != nil {
			skipped++
			log.Warn().Err(err).Str("txHash", ev.TxHash).Msg("stored event failed replay validation, skipping")
			continue
		}
		if added {
			applied++
		}

		if scanned%50000 == 0 {
			log.Info().Int("scanned", scanned).Int("applied", applied).Msg("replay progress")
		}
	}
	if rows.Err() != nil {
		return applied, rows.Err()
	}

	log.Info().Int("scanned", scanned).Int("applied", applied).Int("skipped", skipped).Msg("event replay complete")
	return applied, nil
}

// SaveAssessment upserts the latest risk assessment for a wallet.
func (s *PostgresStore) SaveAssessment(ctx context.Context, analysis models.FundingAnalysis) error {
	findings, err := json.Marshal(analysis.Findings)
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	sql := `
		INSERT INTO risk_assessments
			(wallet, risk_score, risk_level, source_count, chain_count,
			 finding_count, truncated, findings, graph_version, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (wallet) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			source_count = EXCLUDED.source_count,
			chain_count = EXCLUDED.chain_count,
			finding_count = EXCLUDED.finding_count,
			truncated = EXCLUDED.truncated,
			findings = EXCLUDED.findings,
			graph_version = EXCLUDED.graph_version,
			analyzed_at = EXCLUDED.analyzed_at;
	`
	_, err = s.pool.Exec(ctx, sql, analysis.Wallet, analysis.Risk.OverallScore,
		string(analysis.Risk.Level), len(analysis.Sources), len(analysis.Chains),
		len(analysis.Findings), analysis.Truncated, findings,
		analysis.GraphVersion, analysis.AnalyzedAt)
	return err
}

// SaveAlert appends one emitted alert to the durable history. The
// in-memory ring in the alert manager is bounded; this table is not.
func (s *PostgresStore) SaveAlert(ctx context.Context, a alert.Alert) error {
	var payload []byte
	if a.Finding != nil {
		var err error
		payload, err = json.Marshal(a.Finding)
		if err != nil {
			return fmt.Errorf("encoding finding: %w", err)
		}
	}
	sql := `
		INSERT INTO alerts
			(id, wallet, pattern_type, severity, title, description,
			 confidence, chain_signature, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql, a.ID, a.Wallet, string(a.PatternType),
		string(a.Severity), a.Title, a.Description, a.Confidence,
		a.ChainSignature, payload, a.Timestamp)
	return err
}

// AckAlert marks one durable alert row acknowledged and reports whether
// the row existed. Repeated acks keep the first ack time.
func (s *PostgresStore) AckAlert(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET acknowledged = TRUE,
		    acknowledged_at = COALESCE(acknowledged_at, NOW())
		WHERE id = $1;
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecentAlerts pages through the durable alert history, newest first.
func (s *PostgresStore) RecentAlerts(ctx context.Context, page, limit int) ([]alert.Alert, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := `
		SELECT id, wallet, pattern_type, severity, title, description,
		       confidence, chain_signature, emitted_at, acknowledged, acknowledged_at
		FROM alerts
		ORDER BY emitted_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0, limit)
	for rows.Next() {
		var a alert.Alert
		var pattern, severity string
		if err := rows.Scan(&a.ID, &a.Wallet, &pattern, &severity, &a.Title,
			&a.Description, &a.Confidence, &a.ChainSignature, &a.Timestamp,
			&a.Acknowledged, &a.AcknowledgedAt); err != nil {
			return nil, 0, err
		}
		a.PatternType = models.PatternType(pattern)
		a.Severity = models.RiskLevel(severity)
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return alerts, total, nil
}

// WatchEntry is one persisted watchlist row.
type WatchEntry struct {
	Wallet  string
	Label   string
	AddedAt time.Time
}

// SaveWatch upserts a watched wallet so the watchlist survives restarts.
func (s *PostgresStore) SaveWatch(ctx context.Context, wallet, label string) error {
	sql := `
		INSERT INTO watchlist (wallet, label)
		VALUES ($1, $2)
		ON CONFLICT (wallet) DO UPDATE SET label = EXCLUDED.label;
	`
	_, err := s.pool.Exec(ctx, sql, wallet, label)
	return err
}

// DeleteWatch removes a wallet from the durable watchlist.
func (s *PostgresStore) DeleteWatch(ctx context.Context, wallet string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE wallet = $1`, wallet)
	return err
}

// LoadWatchlist loads every persisted watch for warm-starting the
// monitor on process boot.
func (s *PostgresStore) LoadWatchlist(ctx context.Context) ([]WatchEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet, label, added_at FROM watchlist ORDER BY added_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]WatchEntry, 0)
	for rows.Next() {
		var e WatchEntry
		if err := rows.Scan(&e.Wallet, &e.Label, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// SaveShadowResult persists one shadow comparison. Implements the
// monitor's shadow sink.
func (s *PostgresStore) SaveShadowResult(ctx context.Context, result monitor.ShadowResult) error {
	production := result.ProductionPatterns
	if production == nil {
		production = []string{}
	}
	shadow := result.ShadowPatterns
	if shadow == nil {
		shadow = []string{}
	}
	sql := `
		INSERT INTO shadow_results
			(wallet, production_patterns, shadow_patterns, diverged, delta_findings, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, sql, result.Wallet, production, shadow,
		result.Diverged, result.DeltaFindings, result.CheckedAt)
	return err
}
