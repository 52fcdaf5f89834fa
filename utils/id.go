package utils

import (
	"github.com/segmentio/ksuid"
)

// GenerateID 生成唯一请求ID
func GenerateID() string {
	return ksuid.New().String()
}
