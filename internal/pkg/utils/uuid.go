package utils

import "github.com/google/uuid"

// GenerateJobID 生成扫描任务ID
func GenerateJobID() string {
	return uuid.New().String()
}

// GenerateRequestID 生成请求追踪ID
func GenerateRequestID() string {
	return uuid.New().String()
}
