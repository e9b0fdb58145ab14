package config

import (
	"sync"
)

var (
	storageOnce   sync.Once
	storageConfig *StorageConfig

	minioOnce   sync.Once
	minioConfig *MinioConfig

	s3Once   sync.Once
	s3Config *S3Config
)

// StorageConfig selects the blob backend. Supported types: local, minio, s3.
type StorageConfig struct {
	Type     string
	LocalDir string
}

type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
}

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetStorageConfig() *StorageConfig {
	storageOnce.Do(func() {
		loadEnv()

		storageConfig = &StorageConfig{
			Type:     getEnv("STORAGE_TYPE", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "data/blobs"),
		}
	})
	return storageConfig
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		loadEnv()

		minioConfig = &MinioConfig{
			AccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:  getEnv("MINIO_SECRET_KEY", ""),
			Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
			UseSSL:     getEnvBool("MINIO_USE_SSL", false),
			Region:     getEnv("MINIO_REGION", ""),
			BucketName: getEnv("MINIO_BUCKET_NAME", "casedocs"),
		}
	})
	return minioConfig
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()

		s3Config = &S3Config{
			BucketName: getEnv("AWS_S3_BUCKET_NAME", ""),
			Region:     getEnv("AWS_REGION", "us-east-1"),
			Endpoint:   getEnv("AWS_ENDPOINT", ""),
			AccessKey:  getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:  getEnv("AWS_SECRET_KEY", ""),
		}
	})
	return s3Config
}
