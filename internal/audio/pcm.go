package audio

import (
	"encoding/binary"
	"fmt"
)

// SampleRate is the rate of audio held in taps.
const SampleRate = 16000

// Normalize converts s16le mono PCM at rate to the tap format. 16kHz audio
// is returned as is; 48kHz audio is downsampled by averaging each group of
// three samples. A trailing partial sample or group is dropped.
func Normalize(pcm []byte, rate int) ([]byte, error) {
	switch rate {
	case SampleRate:
		return pcm, nil
	case 3 * SampleRate:
		return downsample48to16(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", rate)
	}
}

func downsample48to16(pcm []byte) []byte {
	groups := len(pcm) / 6
	out := make([]byte, groups*2)
	for i := 0; i < groups; i++ {
		in := pcm[i*6:]
		sum := int32(int16(binary.LittleEndian.Uint16(in[0:]))) +
			int32(int16(binary.LittleEndian.Uint16(in[2:]))) +
			int32(int16(binary.LittleEndian.Uint16(in[4:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/3)))
	}
	return out
}
