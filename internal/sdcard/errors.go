package sdcard

import (
	"errors"
	"fmt"
)

// 故障分级 (对应在线循环的处置策略):
//   - InitError:    握手失败，本次会话致命，只能下次上电重试
//   - ErrIoTimeout: 瞬时故障，调用方可以重试
//   - ErrIoRejected: 卡拒绝写入，重新初始化之前不得重试
var (
	// ErrIoTimeout 卡在限定时间内未给出响应/数据令牌/就绪信号
	ErrIoTimeout = errors.New("sdcard: io timeout")

	// ErrIoRejected 卡通过数据响应令牌明确拒绝了本次写入
	ErrIoRejected = errors.New("sdcard: write rejected by card")

	// ErrNotInitialized 在 Init 成功之前调用了块读写
	ErrNotInitialized = errors.New("sdcard: card not initialized")
)

// InitError 初始化握手失败
// Step 标识失败的握手阶段，便于现场排查接线与卡兼容性问题
type InitError struct {
	Step  string
	Cause error
}

func (e *InitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sdcard: init failed at %s: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("sdcard: init failed at %s", e.Step)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// initErr 构造握手失败错误
func initErr(step string, cause error) error {
	return &InitError{Step: step, Cause: cause}
}
