// SPDX-License-Identifier: Apache-2.0

// Package catalog is the persisted record of every table under
// replication: identity, topology (PK strategy and columns), and progress
// (cursor position, status, last sync time). It is the single source of
// truth a restarted process consults to resume exactly where it left off.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
)

// Status is a table's position in the synchronization state machine.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusFullLoad          Status = "FULL_LOAD"
	StatusListeningChanges  Status = "LISTENING_CHANGES"
	StatusReset             Status = "RESET"
	StatusNoData            Status = "NO_DATA"
	StatusError              Status = "ERROR"
	StatusSkip              Status = "SKIP"
)

// Engine identifies the source database family a row was discovered in.
type Engine string

const (
	EngineMariaDB    Engine = "MariaDB"
	EngineMSSQL      Engine = "MSSQL"
	EngineMongo      Engine = "MongoDB"
	EnginePostgreSQL Engine = "PostgreSQL"
)

// Row is one tracked (schema, table, engine) triple: its identity,
// topology and synchronization progress, as persisted in
// metadata.catalog.
type Row struct {
	SchemaName       string
	TableName        string
	ClusterName      string
	DBEngine         Engine
	ConnectionString string

	LastSyncTime   *time.Time // nil if never synced
	LastSyncColumn string

	Status Status

	LastOffset      *int64  // meaningful only when PKStrategy == Offset
	LastProcessedPK *string // meaningful only when PKStrategy != Offset

	PKStrategy       pkstrategy.Strategy
	PKColumns        []string
	CandidateColumns []string
	HasPK            bool

	TableSize int64
	Active    bool
}

// Key identifies a row by its natural primary key.
type Key struct {
	SchemaName string
	TableName  string
	DBEngine   Engine
}

func (r Row) Key() Key {
	return Key{SchemaName: r.SchemaName, TableName: r.TableName, DBEngine: r.DBEngine}
}

// validate checks the invariants from the data model that an individual
// row must satisfy before it is written; upsert rejects rows that violate
// them. Store.Cleanup does not repair these: it only nulls whichever of
// last_offset/last_processed_pk disagrees with pk_strategy.
func (r Row) validate() error {
	if r.SchemaName == "" || r.TableName == "" {
		return fmt.Errorf("catalog: schema_name and table_name are required")
	}
	if r.HasPK != (len(r.PKColumns) > 0) {
		return fmt.Errorf("catalog: has_pk must agree with len(pk_columns) for %s.%s", r.SchemaName, r.TableName)
	}
	switch r.PKStrategy {
	case pkstrategy.PK:
		if !r.HasPK {
			return fmt.Errorf("catalog: pk_strategy=PK requires has_pk for %s.%s", r.SchemaName, r.TableName)
		}
	case pkstrategy.TemporalPK:
		if r.HasPK || len(r.CandidateColumns) == 0 {
			return fmt.Errorf("catalog: pk_strategy=TEMPORAL_PK requires !has_pk and candidate columns for %s.%s", r.SchemaName, r.TableName)
		}
	case pkstrategy.Offset:
		if r.HasPK {
			return fmt.Errorf("catalog: pk_strategy=OFFSET requires !has_pk for %s.%s", r.SchemaName, r.TableName)
		}
	default:
		return fmt.Errorf("catalog: unknown pk_strategy %q for %s.%s", r.PKStrategy, r.SchemaName, r.TableName)
	}
	return nil
}

func marshalColumns(cols []string) (string, error) {
	if cols == nil {
		cols = []string{}
	}
	b, err := json.Marshal(cols)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalColumns(raw *string) ([]string, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var cols []string
	if err := json.Unmarshal([]byte(*raw), &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// RowView is the JSON-facing projection of Row used by the status CLI
// command. It uses nullable.Nullable for the three fields that are
// genuinely optional on the wire, so a client can distinguish "this field
// was never set" from "this field was explicitly cleared".
type RowView struct {
	SchemaName       string              `json:"schema_name"`
	TableName        string              `json:"table_name"`
	ClusterName      string              `json:"cluster_name"`
	DBEngine         string              `json:"db_engine"`
	Status           string              `json:"status"`
	PKStrategy       string              `json:"pk_strategy"`
	PKColumns        []string            `json:"pk_columns"`
	CandidateColumns []string            `json:"candidate_columns"`
	TableSize        int64               `json:"table_size"`
	Active           bool                `json:"active"`

	LastOffset      nullable.Nullable[int64]  `json:"last_offset"`
	LastProcessedPK nullable.Nullable[string] `json:"last_processed_pk"`
	LastSyncTime    nullable.Nullable[string] `json:"last_sync_time"`
}

// ToView projects a Row into its wire representation.
func ToView(r Row) RowView {
	v := RowView{
		SchemaName:       r.SchemaName,
		TableName:        r.TableName,
		ClusterName:      r.ClusterName,
		DBEngine:         string(r.DBEngine),
		Status:           string(r.Status),
		PKStrategy:       string(r.PKStrategy),
		PKColumns:        r.PKColumns,
		CandidateColumns: r.CandidateColumns,
		TableSize:        r.TableSize,
		Active:           r.Active,
	}
	if r.LastOffset != nil {
		v.LastOffset = nullable.NewNullableWithValue(*r.LastOffset)
	}
	if r.LastProcessedPK != nil {
		v.LastProcessedPK = nullable.NewNullableWithValue(*r.LastProcessedPK)
	}
	if r.LastSyncTime != nil {
		v.LastSyncTime = nullable.NewNullableWithValue(r.LastSyncTime.Format(time.RFC3339))
	}
	return v
}
