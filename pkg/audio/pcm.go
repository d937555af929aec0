// Package audio holds the small amount of PCM handling the dictation pipeline
// needs: downmixing client audio for the VAD and slicing an arbitrary byte
// stream into fixed-size frames.
//
// All functions operate on little-endian signed 16-bit PCM.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

func sample(pcm []byte, i int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
}

func putSample(out []byte, i int, v int32) {
	v = min(max(v, -32768), 32767)
	binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
}

// Downmix averages interleaved channels into mono. Trailing partial sample
// frames are dropped.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for c := range channels {
			sum += sample(pcm, f*channels+c)
		}
		putSample(out, f, sum/int32(channels))
	}
	return out
}
