// SPDX-License-Identifier: Apache-2.0

package pkstrategy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		pkCols        []string
		candidateCols []string
		want          pkstrategy.Strategy
	}{
		{"has pk", []string{"id"}, nil, pkstrategy.PK},
		{"composite pk", []string{"a", "b"}, []string{"updated_at"}, pkstrategy.PK},
		{"no pk has candidate", nil, []string{"updated_at"}, pkstrategy.TemporalPK},
		{"no pk multiple candidates", nil, []string{"updated_at", "id"}, pkstrategy.TemporalPK},
		{"no pk no candidates", nil, nil, pkstrategy.Offset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pkstrategy.Classify(tt.pkCols, tt.candidateCols))
		})
	}
}

func TestCursorColumn(t *testing.T) {
	col, ok := pkstrategy.CursorColumn(pkstrategy.PK, []string{"id", "tenant_id"}, nil)
	assert.True(t, ok)
	assert.Equal(t, "id", col)

	col, ok = pkstrategy.CursorColumn(pkstrategy.TemporalPK, nil, []string{"updated_at", "seq"})
	assert.True(t, ok)
	assert.Equal(t, "updated_at", col)

	_, ok = pkstrategy.CursorColumn(pkstrategy.Offset, nil, nil)
	assert.False(t, ok)

	_, ok = pkstrategy.CursorColumn(pkstrategy.PK, nil, nil)
	assert.False(t, ok)
}
