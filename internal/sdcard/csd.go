package sdcard

import "fmt"

// parseBlockCount 从 CSD 寄存器推导 512 字节块总数
// 两种容量编码:
//   - v2/高容量: 块数 = (c_size + 1) * 1024
//   - v1/初代:   容量 = (c_size + 1) * 2^(c_size_mult + 2) * 2^read_bl_len 字节
func parseBlockCount(csd [16]byte, family Family) (uint64, error) {
	cSize := uint64(csd[6]&0x03)<<10 | uint64(csd[7])<<2 | uint64(csd[8]&0xC0)>>6

	if family == FamilySDHC {
		return (cSize + 1) * 1024, nil
	}

	cSizeMult := uint64(csd[9]&0x03)<<1 | uint64(csd[10]&0x80)>>7
	readBlLen := uint64(csd[5] & 0x0F)

	capacity := (cSize + 1) * (1 << (cSizeMult + 2)) * (1 << readBlLen)
	if capacity%BlockSize != 0 {
		return 0, fmt.Errorf("csd capacity %d is not block aligned", capacity)
	}
	return capacity / BlockSize, nil
}
