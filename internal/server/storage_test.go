package server

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiokv/dkvd/internal/config"
)

func TestNewStorageAdapter_Memory(t *testing.T) {
	adapter, err := newStorageAdapter(config.StorageConfig{Backend: "memory"}, logrus.StandardLogger())
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestNewStorageAdapter_Pebble(t *testing.T) {
	adapter, err := newStorageAdapter(config.StorageConfig{
		Backend: "pebble",
		Root:    filepath.Join(t.TempDir(), "pebble"),
	}, logrus.StandardLogger())
	require.NoError(t, err)
	require.NotNil(t, adapter)
	defer adapter.Close()
}

func TestNewStorageAdapter_Badger(t *testing.T) {
	adapter, err := newStorageAdapter(config.StorageConfig{
		Backend: "badger",
		Root:    filepath.Join(t.TempDir(), "badger"),
	}, logrus.StandardLogger())
	require.NoError(t, err)
	require.NotNil(t, adapter)
	defer adapter.Close()
}

func TestNewStorageAdapter_UnknownBackend(t *testing.T) {
	_, err := newStorageAdapter(config.StorageConfig{Backend: "nonexistent"}, logrus.StandardLogger())
	assert.Error(t, err)
}
