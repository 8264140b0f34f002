// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tgberrios/datasync/internal/connstr"
	"github.com/tgberrios/datasync/pkg/db"
)

const sqlInit = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.catalog (
	schema_name         text        not null,
	table_name          text        not null,
	cluster_name        text,
	db_engine           text        not null  check (db_engine in ('MariaDB','MSSQL','MongoDB','PostgreSQL')),
	connection_string   text        not null,
	last_sync_time      timestamp,
	last_sync_column    text,
	status              text        not null  check (status in ('PENDING','FULL_LOAD','LISTENING_CHANGES',
	                                                   'RESET','NO_DATA','ERROR','SKIP')),
	last_offset         text,
	last_processed_pk   text,
	pk_strategy         text        not null  check (pk_strategy in ('PK','TEMPORAL_PK','OFFSET')),
	pk_columns          text,
	candidate_columns   text,
	has_pk              boolean     not null,
	table_size          bigint      not null default 0,
	active              boolean     not null default false,
	primary key (schema_name, table_name, db_engine)
);

CREATE TABLE IF NOT EXISTS %[1]s.config (
	key         text primary key,
	value       text not null
);

INSERT INTO %[1]s.config (key, value) VALUES
	('chunk_size', '25000'),
	('sync_interval', '30'),
	('debug_level', 'INFO'),
	('debug_show_timestamps', 'true'),
	('debug_show_thread_id', 'false'),
	('debug_show_file_line', 'false')
ON CONFLICT (key) DO NOTHING;
`

// rowColumnsSchema constrains pk_columns/candidate_columns JSON text to an
// array of non-empty strings, the shape upsert always writes.
const rowColumnsSchema = `{
	"type": "array",
	"items": {"type": "string", "minLength": 1}
}`

// Store is the catalog's persistence layer: a schema-qualified connection
// to the target PostgreSQL database, the same shape as pgroll's state.State
// but addressing metadata.catalog/metadata.config instead of a migration
// history table.
type Store struct {
	conn   db.DB
	rawDB  *sql.DB
	schema string

	validate *jsonschema.Schema
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithSchemaValidation turns on JSON-Schema validation of pk_columns and
// candidate_columns before every upsert, rejecting malformed catalog rows
// before they ever reach the database.
func WithSchemaValidation() Option {
	return func(s *Store) {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rowColumnsSchema))
		if err != nil {
			return
		}
		const resourceURL = "catalog://row-columns.json"
		if err := compiler.AddResource(resourceURL, doc); err != nil {
			return
		}
		sch, err := compiler.Compile(resourceURL)
		if err != nil {
			return
		}
		s.validate = sch
	}
}

// New opens a connection to the target PostgreSQL database and returns a
// Store scoped to stateSchema (normally "metadata"). Mirrors pgroll's
// state.New: parse the URL, set search_path, wrap in a retryable DB.
func New(ctx context.Context, pgURL, stateSchema string, opts ...Option) (*Store, error) {
	scopedURL, err := connstr.AppendSearchPathOption(pgURL, stateSchema)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	dsn, err := pq.ParseURL(scopedURL)
	if err != nil {
		dsn = scopedURL
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &Store{
		conn:   &db.RDB{DB: conn},
		rawDB:  conn,
		schema: stateSchema,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the metadata.catalog and metadata.config tables if they do
// not already exist, guarded by an advisory lock so concurrent processes
// racing to start up never collide on the DDL.
func (s *Store) Init(ctx context.Context) error {
	tx, err := s.rawDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const key int64 = 0x6461746173796e63 // "datasync" packed into an int64
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(sqlInit, pq.QuoteIdentifier(s.schema))); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Schema returns the catalog's home schema name.
func (s *Store) Schema() string {
	return s.schema
}

// Conn returns the store's retryable connection to the target database,
// shared with the Target Writer since both write to the same PostgreSQL
// instance and every statement on either side already quotes its own
// fully-qualified identifiers.
func (s *Store) Conn() db.DB {
	return s.conn
}

func (s *Store) table() string {
	return pq.QuoteIdentifier(s.schema) + ".catalog"
}

func (s *Store) configTable() string {
	return pq.QuoteIdentifier(s.schema) + ".config"
}
