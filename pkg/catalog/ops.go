// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
)

// ErrNotFound is returned by Get when no row matches the given key.
var ErrNotFound = errors.New("catalog: row not found")

// ListActiveByEngine returns every active row for the given engine,
// ordered table_size ASC then schema_name, table_name — the order the
// Replication Orchestrator dispatches work in.
func (s *Store) ListActiveByEngine(ctx context.Context, engine Engine) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT schema_name, table_name, cluster_name, db_engine, connection_string,
		       last_sync_time, last_sync_column, status, last_offset, last_processed_pk,
		       pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active
		FROM %s
		WHERE db_engine = $1 AND active = true
		ORDER BY table_size ASC, schema_name ASC, table_name ASC`, s.table())

	rows, err := s.conn.QueryContext(ctx, query, string(engine))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByEngine returns every row for the given engine, active or not —
// the full view the Catalog Synchronizer diffs discovered tables against.
func (s *Store) ListByEngine(ctx context.Context, engine Engine) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT schema_name, table_name, cluster_name, db_engine, connection_string,
		       last_sync_time, last_sync_column, status, last_offset, last_processed_pk,
		       pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active
		FROM %s
		WHERE db_engine = $1`, s.table())

	rows, err := s.conn.QueryContext(ctx, query, string(engine))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the row identified by key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key Key) (Row, error) {
	query := fmt.Sprintf(`
		SELECT schema_name, table_name, cluster_name, db_engine, connection_string,
		       last_sync_time, last_sync_column, status, last_offset, last_processed_pk,
		       pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active
		FROM %s
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())

	rows, err := s.conn.QueryContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine))
	if err != nil {
		return Row{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Row{}, ErrNotFound
	}
	r, err := scanRow(rows)
	if err != nil {
		return Row{}, err
	}
	return r, rows.Err()
}

// Upsert inserts a new row or replaces an existing one's full contents.
// Metadata-only updates (catalogsync) and progress-only updates
// (tablesync) use the narrower UpdateStatus/UpdateLastProcessedPK/
// UpdateMetadata instead, so a concurrent writer's fields are never
// clobbered by a stale in-memory Row.
func (s *Store) Upsert(ctx context.Context, r Row) error {
	if err := r.validate(); err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validateColumns(r.PKColumns); err != nil {
			return fmt.Errorf("catalog: pk_columns: %w", err)
		}
		if err := s.validateColumns(r.CandidateColumns); err != nil {
			return fmt.Errorf("catalog: candidate_columns: %w", err)
		}
	}

	pkColumns, err := marshalColumns(r.PKColumns)
	if err != nil {
		return err
	}
	candidateColumns, err := marshalColumns(r.CandidateColumns)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			schema_name, table_name, cluster_name, db_engine, connection_string,
			last_sync_time, last_sync_column, status, last_offset, last_processed_pk,
			pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (schema_name, table_name, db_engine) DO UPDATE SET
			cluster_name = EXCLUDED.cluster_name,
			connection_string = EXCLUDED.connection_string,
			last_sync_time = EXCLUDED.last_sync_time,
			last_sync_column = EXCLUDED.last_sync_column,
			status = EXCLUDED.status,
			last_offset = EXCLUDED.last_offset,
			last_processed_pk = EXCLUDED.last_processed_pk,
			pk_strategy = EXCLUDED.pk_strategy,
			pk_columns = EXCLUDED.pk_columns,
			candidate_columns = EXCLUDED.candidate_columns,
			has_pk = EXCLUDED.has_pk,
			table_size = EXCLUDED.table_size,
			active = EXCLUDED.active`, s.table())

	_, err = s.conn.ExecContext(ctx, query,
		r.SchemaName, r.TableName, r.ClusterName, string(r.DBEngine), r.ConnectionString,
		r.LastSyncTime, r.LastSyncColumn, string(r.Status), r.LastOffset, r.LastProcessedPK,
		string(r.PKStrategy), pkColumns, candidateColumns, r.HasPK, r.TableSize, r.Active)
	return err
}

func (s *Store) validateColumns(cols []string) error {
	b, err := marshalColumns(cols)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal([]byte(b), &doc); err != nil {
		return err
	}
	return s.validate.Validate(doc)
}

// UpdateStatus writes a row's status, progress cursor and last_sync_time
// in a single statement; a nil argument writes NULL to its column.
func (s *Store) UpdateStatus(ctx context.Context, key Key, status Status, lastOffset *int64, lastProcessedPK *string, lastSyncTime *time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $4, last_offset = $5, last_processed_pk = $6, last_sync_time = $7
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())

	res, err := s.conn.ExecContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine),
		string(status), lastOffset, lastProcessedPK, lastSyncTime)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// UpdateLastProcessedPK advances only the PK/offset cursor, leaving
// status untouched — used between chunks of the same branch.
func (s *Store) UpdateLastProcessedPK(ctx context.Context, key Key, lastOffset *int64, lastProcessedPK *string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET last_offset = $4, last_processed_pk = $5
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())

	res, err := s.conn.ExecContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine),
		lastOffset, lastProcessedPK)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// UpdateMetadata refreshes topology fields discovered by a catalog sync
// pass, without touching status or progress.
func (s *Store) UpdateMetadata(ctx context.Context, key Key, clusterName, lastSyncColumn string, pkStrategy pkstrategy.Strategy, pkColumns, candidateColumns []string, hasPK bool, tableSize int64) error {
	pkCols, err := marshalColumns(pkColumns)
	if err != nil {
		return err
	}
	candCols, err := marshalColumns(candidateColumns)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET cluster_name = $4, last_sync_column = $5, pk_strategy = $6,
			pk_columns = $7, candidate_columns = $8, has_pk = $9, table_size = $10
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())

	res, err := s.conn.ExecContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine),
		clusterName, lastSyncColumn, string(pkStrategy), pkCols, candCols, hasPK, tableSize)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// UpdateClusterName sets only cluster_name — the narrow write the Catalog
// Synchronizer's third pass uses to backfill rows discovered with no
// label yet, without touching the topology fields UpdateMetadata owns.
func (s *Store) UpdateClusterName(ctx context.Context, key Key, clusterName string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET cluster_name = $4
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())
	res, err := s.conn.ExecContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine), clusterName)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// Delete removes a row — used when a catalog sync pass observes the
// source table no longer exists.
func (s *Store) Delete(ctx context.Context, key Key) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`, s.table())
	_, err := s.conn.ExecContext(ctx, query, key.SchemaName, key.TableName, string(key.DBEngine))
	return err
}

func checkRowsAffected(res sql.Result, key Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s.%s (%s)", ErrNotFound, key.SchemaName, key.TableName, key.DBEngine)
	}
	return nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	var dbEngine, status, pkStrategy string
	var pkColumns, candidateColumns *string

	err := rows.Scan(
		&r.SchemaName, &r.TableName, &r.ClusterName, &dbEngine, &r.ConnectionString,
		&r.LastSyncTime, &r.LastSyncColumn, &status, &r.LastOffset, &r.LastProcessedPK,
		&pkStrategy, &pkColumns, &candidateColumns, &r.HasPK, &r.TableSize, &r.Active,
	)
	if err != nil {
		return Row{}, err
	}

	r.DBEngine = Engine(dbEngine)
	r.Status = Status(status)
	r.PKStrategy = pkstrategy.Strategy(pkStrategy)

	r.PKColumns, err = unmarshalColumns(pkColumns)
	if err != nil {
		return Row{}, err
	}
	r.CandidateColumns, err = unmarshalColumns(candidateColumns)
	if err != nil {
		return Row{}, err
	}
	return r, nil
}
