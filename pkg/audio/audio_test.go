package audio

import (
	"encoding/binary"
	"testing"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func TestDownmix_Stereo(t *testing.T) {
	got := samples(Downmix(pcm(100, 300, -100, -300, 32767, 32767), 2))
	want := []int16{200, -200, 32767}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := pcm(1, 2, 3)
	if got := Downmix(in, 1); &got[0] != &in[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}
	if f.String() != "48000Hz stereo" {
		t.Errorf("String() = %q", f.String())
	}
	if got := (Format{SampleRate: 16000, Channels: 1}).String(); got != "16000Hz mono" {
		t.Errorf("String() = %q", got)
	}
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Write([]byte{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("got %d frames from 3 bytes", len(frames))
	}
	frames := f.Write([]byte{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[0][3] != 4 || frames[1][0] != 5 {
		t.Errorf("unexpected frame contents: %v", frames)
	}
	if f.Buffered() != 1 {
		t.Errorf("Buffered() = %d, want 1", f.Buffered())
	}
	f.Reset()
	if f.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d", f.Buffered())
	}
}

func TestNewFramer_PanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewFramer(0)
}
