// SPDX-License-Identifier: Apache-2.0

package runtimeconfig_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/runtimeconfig"
)

type fakeSource struct {
	values map[string]string
	err    error
}

func (f *fakeSource) AllConfigValues(context.Context) (map[string]string, error) {
	return f.values, f.err
}

func TestDefaults(t *testing.T) {
	s := runtimeconfig.New(&fakeSource{})
	snap := s.Get()
	assert.Equal(t, 25000, snap.ChunkSize)
	assert.Equal(t, 30*time.Second, snap.SyncInterval)
}

func TestRefreshAppliesValidValues(t *testing.T) {
	src := &fakeSource{values: map[string]string{
		"chunk_size":            "5000",
		"sync_interval":         "10",
		"debug_level":           "DEBUG",
		"debug_show_timestamps": "false",
	}}
	s := runtimeconfig.New(src)
	require.NoError(t, s.Refresh(context.Background()))

	snap := s.Get()
	assert.Equal(t, 5000, snap.ChunkSize)
	assert.Equal(t, 10*time.Second, snap.SyncInterval)
	assert.Equal(t, "DEBUG", snap.DebugLevel)
	assert.False(t, snap.DebugShowTimestamps)
}

func TestRefreshIgnoresOutOfRangeAndMalformedValues(t *testing.T) {
	src := &fakeSource{values: map[string]string{
		"chunk_size":    "0",
		"sync_interval": "not-a-number",
	}}
	s := runtimeconfig.New(src)
	require.NoError(t, s.Refresh(context.Background()))

	snap := s.Get()
	assert.Equal(t, 25000, snap.ChunkSize)
	assert.Equal(t, 30*time.Second, snap.SyncInterval)
}
