// SPDX-License-Identifier: Apache-2.0

package errkind_test

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/tgberrios/datasync/pkg/errkind"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected errkind.Kind
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: errkind.KindOther,
		},
		{
			name:     "pq aborted transaction by sqlstate",
			err:      &pq.Error{Code: "25P02", Message: "current transaction is aborted"},
			expected: errkind.KindAbortedTransaction,
		},
		{
			name:     "pq invalid text representation by sqlstate",
			err:      &pq.Error{Code: "22P02", Message: "invalid input syntax for type integer"},
			expected: errkind.KindInvalidInput,
		},
		{
			name:     "pq invalid binary representation by sqlstate",
			err:      &pq.Error{Code: "22P03", Message: "not a valid binary digit"},
			expected: errkind.KindInvalidInput,
		},
		{
			name:     "pq lock not available",
			err:      &pq.Error{Code: "55P03", Message: "could not obtain lock"},
			expected: errkind.KindLockNotAvailable,
		},
		{
			name:     "pq connection exception class",
			err:      &pq.Error{Code: "08006", Message: "connection failure"},
			expected: errkind.KindConnection,
		},
		{
			name:     "substring fallback for aborted transaction",
			err:      errors.New("pq: current transaction is aborted, commands ignored"),
			expected: errkind.KindAbortedTransaction,
		},
		{
			name:     "substring fallback for invalid input",
			err:      errors.New("ERROR: invalid input syntax for integer"),
			expected: errkind.KindInvalidInput,
		},
		{
			name:     "substring fallback for connection drop",
			err:      errors.New("read tcp: connection reset by peer"),
			expected: errkind.KindConnection,
		},
		{
			name:     "unrelated error",
			err:      errors.New("table does not exist"),
			expected: errkind.KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errkind.Classify(tt.err))
		})
	}
}

func TestEndsLoop(t *testing.T) {
	assert.True(t, errkind.EndsLoop(errkind.KindAbortedTransaction))
	assert.True(t, errkind.EndsLoop(errkind.KindConnection))
	assert.False(t, errkind.EndsLoop(errkind.KindInvalidInput))
	assert.False(t, errkind.EndsLoop(errkind.KindLockNotAvailable))
	assert.False(t, errkind.EndsLoop(errkind.KindOther))
}
