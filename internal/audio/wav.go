// Package audio holds the PCM helpers shared by the recognizers and synthesizers.
package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Format describes raw little-endian PCM audio.
type Format struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// DefaultFormat is 16 kHz mono 16-bit PCM, what clients stream for recognition.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// Duration returns how long n bytes of audio in this format play.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// PCMToWAV wraps raw PCM data in a 44-byte WAV container.
func PCMToWAV(pcm []byte, f Format) []byte {
	dataLen := len(pcm)
	fileLen := 36 + dataLen // 44-byte header minus the 8-byte RIFF header

	buf := &bytes.Buffer{}
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(fileLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16)) // subchunk1 size
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.BytesPerSecond()))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels*f.BytesPerSample)) // block align
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.BytesPerSample*8))          // bits per sample

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}
