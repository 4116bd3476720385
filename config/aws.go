package config

import (
	"sync"
)

var (
	awsOnce   sync.Once
	awsConfig *AWSConfig
)

// AWSConfig covers both the S3 storage backend and the Textract OCR backend.
type AWSConfig struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func GetAWSConfig() *AWSConfig {
	awsOnce.Do(func() {
		loadEnv()

		awsConfig = &AWSConfig{
			BucketName: getEnv("AWS_S3_BUCKET_NAME", ""),
			Region:     getEnv("AWS_REGION", "us-east-1"),
			Endpoint:   getEnv("AWS_ENDPOINT", ""),
			AccessKey:  getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:  getEnv("AWS_SECRET_KEY", ""),
		}
	})
	return awsConfig
}
