// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Cleanup repairs rows that violate the "exactly one of last_offset and
// last_processed_pk is meaningful" invariant: whichever field disagrees
// with the row's pk_strategy is nulled. Violations are not reported
// upward — they are invariant violations the system self-heals, per the
// error taxonomy's "offending field nulled during cleanup(); not reported
// upward".
func (s *Store) Cleanup(ctx context.Context) error {
	offsetQuery := fmt.Sprintf(`
		UPDATE %s SET last_offset = NULL
		WHERE pk_strategy IN ('PK','TEMPORAL_PK') AND last_offset IS NOT NULL`, s.table())
	if _, err := s.conn.ExecContext(ctx, offsetQuery); err != nil {
		return err
	}

	pkQuery := fmt.Sprintf(`
		UPDATE %s SET last_processed_pk = NULL
		WHERE pk_strategy = 'OFFSET' AND last_processed_pk IS NOT NULL`, s.table())
	if _, err := s.conn.ExecContext(ctx, pkQuery); err != nil {
		return err
	}

	return nil
}

// DeactivateNoData implements the invariant "status = NO_DATA after a
// maintenance pass ⇒ active = false", and its converse: rows left
// inactive with a status other than NO_DATA are normalized to SKIP with
// progress fields zeroed.
func (s *Store) DeactivateNoData(ctx context.Context) error {
	deactivate := fmt.Sprintf(`
		UPDATE %s SET active = false
		WHERE status = 'NO_DATA' AND active = true`, s.table())
	if _, err := s.conn.ExecContext(ctx, deactivate); err != nil {
		return err
	}

	normalize := fmt.Sprintf(`
		UPDATE %s SET status = 'SKIP', last_offset = NULL, last_processed_pk = NULL
		WHERE active = false AND status <> 'NO_DATA' AND status <> 'SKIP'`, s.table())
	if _, err := s.conn.ExecContext(ctx, normalize); err != nil {
		return err
	}

	return nil
}

// ErrConfigKeyNotFound is returned by ConfigValue when the key has no row
// in metadata.config — it should never happen after Init seeds defaults,
// but a caller querying an unknown key gets a clear error rather than "".
var ErrConfigKeyNotFound = errors.New("catalog: config key not found")

// ConfigValue reads a single key from metadata.config.
func (s *Store) ConfigValue(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.configTable())
	rows, err := s.conn.QueryContext(ctx, query, key)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var value string
	if !rows.Next() {
		return "", ErrConfigKeyNotFound
	}
	if err := rows.Scan(&value); err != nil {
		return "", err
	}
	return value, rows.Err()
}

// SetConfigValue upserts a single key in metadata.config.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.configTable())
	_, err := s.conn.ExecContext(ctx, query, key, value)
	return err
}

// AllConfigValues returns the full metadata.config key/value set.
func (s *Store) AllConfigValues(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s`, s.configTable())
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
