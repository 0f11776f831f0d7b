package mpegts

// PSI sections end in a CRC32 per ISO 13818-1 Annex A: polynomial
// 0x04C11DB7, initial value 0xFFFFFFFF, no reflection, no final XOR.
// Checksumming a section over its own CRC field yields zero.

var crcTable [256]uint32

func init() {
	for i := range crcTable {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func mpegCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
