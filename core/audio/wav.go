package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV frames raw PCM as a RIFF/WAVE blob so one-shot transcription
// services can decode it without out-of-band encoding metadata.
//
// Only linear16 input is supported; compressed telephony formats never reach
// the transcription path.
func EncodeWAV(pcm []byte, encoding EncodingInfo) ([]byte, error) {
	if encoding.IsZero() {
		encoding = GetDefaultEncodingInfo()
	}
	if encoding.Format != EncodingLinear16 {
		return nil, fmt.Errorf("cannot frame %q audio as WAV", encoding.Format.Name())
	}

	channels := encoding.Channels
	if channels == 0 {
		channels = 1
	}

	bitsPerSample := encoding.Format.ByteSize() * 8
	blockAlign := channels * encoding.Format.ByteSize()
	byteRate := encoding.SampleRate * blockAlign

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(encoding.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}
