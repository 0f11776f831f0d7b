package mpegts

// adtsSampleRates is the sampling_frequency_index table from ISO
// 14496-3. Indexes 13 to 15 are reserved.
var adtsSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// adtsFrame is one AAC frame lifted out of its ADTS envelope.
type adtsFrame struct {
	data       []byte
	sampleRate int
	channels   int
	objectType byte
	rateIndex  byte
	chanConfig byte
}

// splitADTS scans a PES payload for ADTS frames. Damaged spans between
// frames are skipped a byte at a time and a truncated trailing frame is
// dropped.
func splitADTS(data []byte) []adtsFrame {
	var frames []adtsFrame
	for i := 0; i+7 <= len(data); {
		if data[i] != 0xFF || data[i+1]&0xF0 != 0xF0 {
			i++
			continue
		}
		headerSize := 7
		if data[i+1]&0x01 == 0 {
			// protection_absent unset, a CRC follows the header.
			headerSize = 9
		}
		frameLen := int(data[i+3]&0x03)<<11 | int(data[i+4])<<3 | int(data[i+5])>>5
		if frameLen <= headerSize {
			i++
			continue
		}
		if i+frameLen > len(data) {
			break
		}
		rateIndex := data[i+2] >> 2 & 0x0F
		chanConfig := (data[i+2]&0x01)<<2 | (data[i+3]>>6)&0x03
		frames = append(frames, adtsFrame{
			data:       data[i+headerSize : i+frameLen],
			sampleRate: adtsSampleRates[rateIndex],
			channels:   adtsChannels(chanConfig),
			objectType: (data[i+2]>>6)&0x03 + 1,
			rateIndex:  rateIndex,
			chanConfig: chanConfig,
		})
		i += frameLen
	}
	return frames
}

func adtsChannels(config byte) int {
	switch {
	case config == 7:
		return 8
	case config > 0:
		return int(config)
	}
	return 2 // declared out of band; assume stereo
}

// audioSpecificConfig packs the two-byte decoder configuration that
// normally travels in a container header: 5-bit object type, 4-bit
// frequency index, 4-bit channel configuration.
func audioSpecificConfig(objectType, rateIndex, chanConfig byte) []byte {
	v := uint16(objectType)<<11 | uint16(rateIndex)<<7 | uint16(chanConfig)<<3
	return []byte{byte(v >> 8), byte(v)}
}
