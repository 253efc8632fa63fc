// Package sdcard SPI 模式 SD 卡块设备驱动
// 把同步命令/响应总线封装成定长 512 字节块的可靠读写接口
// 协议细节 (命令集/令牌/时序) 与 SD 物理层简化规范的 SPI 模式一致
package sdcard

// Bus 同步串行总线能力接口
// 驱动对总线的全部要求：可调时钟、整字节写、带填充值的整字节读
// 具体实现可以是硬件 SPI 外设，也可以是测试用的模拟卡
type Bus interface {
	// SetClockHz 设置总线时钟
	// 未初始化的卡不接受高速时钟，初始化阶段必须先降到保守速率
	SetClockHz(hz uint32) error

	// Write 向总线写出 p 中全部字节
	Write(p []byte) error

	// ReadInto 从总线读取 len(p) 个字节填入 p
	// SPI 读依赖主机持续发时钟，filler 为读取期间写出的填充字节 (通常 0xFF)
	ReadInto(p []byte, filler byte) error
}

// ChipSelect 片选信号能力接口
// 每次事务前拉低选中，结束后释放；同一总线上的操作严禁交叠
type ChipSelect interface {
	// Assert 拉低片选，选中卡
	Assert()

	// Release 拉高片选，释放卡
	Release()
}

// BlockDevice 定长块设备抽象
// 上层 (链式日志) 只依赖该接口，不感知卡协议细节
type BlockDevice interface {
	// ReadBlock 读取一个 512 字节块
	ReadBlock(index uint32, buf *[512]byte) error

	// WriteBlock 写入一个 512 字节块，不支持部分写
	WriteBlock(index uint32, buf *[512]byte) error

	// BlockCount 设备总块数 (初始化时从容量描述符解析并缓存)
	BlockCount() uint64
}
