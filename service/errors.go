package service

import (
	"errors"
)

// 错误分类：解码错误按文件上报且不可重试；provider错误与超时
// 被降级链吸收；合成错误导致整张图片失败且不产生部分输出。
var (
	ErrDecode              = errors.New("image decode failed")
	ErrProviderUnavailable = errors.New("segmentation provider unavailable")
	ErrSegmentationTimeout = errors.New("segmentation timed out")
	ErrCompositing         = errors.New("compositing failed")
)

// IsRecoverable 判断错误是否可以通过降级到下一档位恢复
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrSegmentationTimeout)
}

// IsDecodeError 判断是否为解码边界错误
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecode)
}
