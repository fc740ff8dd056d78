package vcengine

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-audio/wav"

	"github.com/tphakala/rtvc/internal/errors"
)

// wavFormatIEEEFloat is the WAV fmt-chunk AudioFormat code for 32-bit IEEE
// float PCM, required by the external converter contract (§6.3) and the
// BatchAdapter scratch-file protocol (§4.4). go-audio/wav's decoder targets
// integer PCM via audio.IntBuffer, so encoding (and decoding float-format
// output) is hand-rolled here; decoding integer PCM output — what most
// real-world external converters actually emit regardless of the nominal
// contract — goes through go-audio/wav the same way the teacher's own WAV
// ingestion path does.
const wavFormatIEEEFloat = 3

// encodeFloatWAV writes samples as a mono, 32-bit-float PCM WAV file at the
// given sample rate.
func encodeFloatWAV(samples []Sample, sampleRate int) []byte {
	const bitsPerSample = 32
	const channels = 1
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)
	dataSize := uint32(len(samples) * 4)
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*4))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, chunkSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatIEEEFloat))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	for _, s := range samples {
		_ = binary.Write(buf, binary.LittleEndian, math.Float32bits(s))
	}
	return buf.Bytes()
}

// decodeFloatWAV reads a WAV file and returns mono float32 samples
// normalized to [-1,1] (downmixed by averaging if multichannel), along with
// the file's declared sample rate. Integer PCM is decoded via go-audio/wav;
// IEEE-float PCM (format 3), which that decoder does not support, is parsed
// directly from the fmt/data chunks.
func decodeFloatWAV(data []byte) ([]Sample, int, error) {
	if format, bitDepth := peekWAVFormat(data); format == wavFormatIEEEFloat && bitDepth == 32 {
		return decodeIEEEFloatWAV(data)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, wavErr("decode pcm wav", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, 0, wavErr("wav missing format chunk", nil)
	}

	divisor := divisorForBitDepth(int(dec.BitDepth))
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels

	out := make([]Sample, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / divisor
		}
		out[i] = sum / float32(channels)
	}
	return out, buf.Format.SampleRate, nil
}

func divisorForBitDepth(bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return 128.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default: // 16-bit and anything unrecognized
		return 32768.0
	}
}

// peekWAVFormat reads just the fmt chunk's AudioFormat and BitsPerSample
// fields without fully parsing the file, so decodeFloatWAV can route to the
// right decoder.
func peekWAVFormat(data []byte) (format, bitDepth uint16) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0
	}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if id == "fmt " && pos+16 <= len(data) {
			format = binary.LittleEndian.Uint16(data[pos : pos+2])
			bitDepth = binary.LittleEndian.Uint16(data[pos+14 : pos+16])
			return format, bitDepth
		}
		pos += size
		if size%2 == 1 {
			pos++
		}
	}
	return 0, 0
}

func decodeIEEEFloatWAV(data []byte) ([]Sample, int, error) {
	var sampleRate uint32
	var channels uint16
	var pcm []byte

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(data) {
			break
		}
		body := data[pos : pos+size]
		switch id {
		case "fmt ":
			if len(body) >= 16 {
				channels = binary.LittleEndian.Uint16(body[2:4])
				sampleRate = binary.LittleEndian.Uint32(body[4:8])
			}
		case "data":
			pcm = body
		}
		pos += size
		if size%2 == 1 {
			pos++
		}
	}

	if channels == 0 {
		return nil, 0, wavErr("ieee float wav missing fmt chunk", nil)
	}

	frameBytes := int(channels) * 4
	frames := len(pcm) / frameBytes
	out := make([]Sample, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < int(channels); c++ {
			off := i*frameBytes + c*4
			bits := binary.LittleEndian.Uint32(pcm[off : off+4])
			sum += math.Float32frombits(bits)
		}
		out[i] = sum / float32(channels)
	}
	return out, int(sampleRate), nil
}

func wavErr(op string, cause error) error {
	return errors.New(cause).
		Component("vcengine").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Build()
}
