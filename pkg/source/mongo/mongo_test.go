// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestBsonFieldType(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"document", bson.D{{Key: "a", Value: 1}}, "BSON_DOCUMENT"},
		{"array", bson.A{1, 2}, "BSON_ARRAY"},
		{"bool", true, "BOOLEAN"},
		{"int32", int32(1), "BIGINT"},
		{"int64", int64(1), "BIGINT"},
		{"float", 1.5, "DOUBLE"},
		{"string", "x", "TEXT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bsonFieldType(tt.v); got != tt.want {
				t.Errorf("bsonFieldType(%v) = %q, want %q", tt.v, got, tt.want)
			}
		})
	}
}

func TestRenderValue(t *testing.T) {
	if got := renderValue(int32(42)); got != "42" {
		t.Errorf("renderValue(int32) = %q", got)
	}
	if got := renderValue(int64(42)); got != "42" {
		t.Errorf("renderValue(int64) = %q", got)
	}
	if got := renderValue(true); got != "true" {
		t.Errorf("renderValue(bool) = %q", got)
	}
	if got := renderValue(3.5); got != "3.5" {
		t.Errorf("renderValue(float64) = %q", got)
	}
}

func TestDocToRow(t *testing.T) {
	name := "alice"
	doc := bson.D{{Key: "name", Value: name}, {Key: "age", Value: int32(30)}, {Key: "deleted", Value: nil}}
	row := docToRow(doc)

	if row["name"] == nil || *row["name"] != "alice" {
		t.Errorf("row[name] = %v", row["name"])
	}
	if row["age"] == nil || *row["age"] != "30" {
		t.Errorf("row[age] = %v", row["age"])
	}
	if row["deleted"] != nil {
		t.Errorf("row[deleted] should be nil, got %v", row["deleted"])
	}
}

func TestSystemDatabasesExcluded(t *testing.T) {
	for _, name := range []string{"admin", "local", "config"} {
		if !systemDatabases[name] {
			t.Errorf("expected %q to be a system database", name)
		}
	}
	if systemDatabases["appdb"] {
		t.Errorf("appdb should not be a system database")
	}
}
