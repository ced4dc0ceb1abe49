package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeStoreSatisfiesVersionProvider(t *testing.T) {
	var _ VersionProvider = (*FakeStore)(nil)

	f := &FakeStore{Version: 7}
	v, err := f.LatestSyncedVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
}

func TestFakeStorePropagatesError(t *testing.T) {
	f := &FakeStore{Err: errors.New("boom")}
	_, err := f.LatestSyncedVersion(context.Background())
	require.Error(t, err)
}
