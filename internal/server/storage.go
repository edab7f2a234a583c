package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/config"
	"github.com/maxiokv/dkvd/internal/storageadapter"
)

// newStorageAdapter selects and constructs the durability backend named by
// cfg.Backend.
func newStorageAdapter(cfg config.StorageConfig, logger *logrus.Logger) (storageadapter.Adapter, error) {
	switch cfg.Backend {
	case "memory":
		return storageadapter.NewMemoryAdapter(), nil
	case "pebble":
		return storageadapter.NewPebbleAdapter(storageadapter.PebbleOptions{DataDir: cfg.Root, Logger: logger})
	case "badger":
		return storageadapter.NewBadgerAdapter(storageadapter.BadgerOptions{DataDir: cfg.Root, SyncWrites: cfg.SyncWrites, Logger: logger})
	case "s3":
		return storageadapter.NewS3Adapter(storageadapter.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
