package config

const (
	storageBackendVar = "STORAGE_BACKEND"
	folderEnvVar      = "DATA_FOLDER"
	redisAddrVar      = "REDIS_ADDR"
	redisPasswordVar  = "REDIS_PASSWORD"
)

// Storage backends. With redis the secure partition is sealed with a per-process key,
// otherwise it stays in memory.
const (
	StorageBackendMemory = "memory"
	StorageBackendBBolt  = "bbolt"
	StorageBackendRedis  = "redis"
)

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() string {
	switch b := GetEnv(storageBackendVar, StorageBackendMemory); b {
	case StorageBackendBBolt, StorageBackendRedis:
		return b
	default:
		return StorageBackendMemory
	}
}

func (Storage) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (Storage) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv(redisPasswordVar, "")
}
