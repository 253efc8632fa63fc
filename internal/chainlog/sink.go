package chainlog

import (
	"fmt"
	"io"
	"os"
)

// Sink 可追加字节汇能力接口
// 链式日志对底层存储的全部要求；块设备与普通文件各有一个实现
type Sink interface {
	// Append 追加字节 (实现可以缓冲，Flush 前不保证落盘)
	Append(p []byte) error

	// Flush 把已追加字节提交到持久介质
	Flush() error

	// Size 已提交的字节总长
	Size() int64

	// NewReader 返回覆盖全部已提交字节的全新顺序读取器
	// 每次调用从头开始 (重放可重启)
	NewReader() (io.ReadCloser, error)

	// Close 提交并释放资源
	Close() error
}

// Truncater 支持逻辑截断的字节汇
// 普通文件可能带着被撕裂的尾部行，恢复时截断到最后一个完整行
type Truncater interface {
	Truncate(n int64) error
}

// ==========================================
// 普通文件实现
// ==========================================

// FileSink 普通文件字节汇
// 离线工具和无卡环境使用；文件自身即已提交内容
type FileSink struct {
	path string
	f    *os.File
	size int64
}

// NewFileSink 打开 (或创建) 日志文件
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("chainlog: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chainlog: stat %s: %w", path, err)
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("chainlog: seek %s: %w", path, err)
	}

	return &FileSink{path: path, f: f, size: st.Size()}, nil
}

func (s *FileSink) Append(p []byte) error {
	n, err := s.f.Write(p)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("chainlog: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Flush() error {
	return s.f.Sync()
}

func (s *FileSink) Size() int64 {
	return s.size
}

func (s *FileSink) NewReader() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Truncate 截断被撕裂的尾部
func (s *FileSink) Truncate(n int64) error {
	if err := s.f.Truncate(n); err != nil {
		return fmt.Errorf("chainlog: truncate %s: %w", s.path, err)
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.size = n
	return nil
}

func (s *FileSink) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
