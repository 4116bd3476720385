package config

import (
	"sync"
)

var (
	storageOnce   sync.Once
	storageConfig *StorageConfig
)

type StorageConfig struct {
	Backend string // minio | s3
}

func GetStorageConfig() *StorageConfig {
	storageOnce.Do(func() {
		loadEnv()

		storageConfig = &StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "minio"),
		}
	})
	return storageConfig
}
