package voiceloop

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16 // 1 = PCM, 3 = IEEE float
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV frames float32 samples as a 16-bit PCM WAV object. An empty
// sample slice yields a header-only artifact, which the backend treats as a
// minimal utterance.
func EncodeWAV(samples []float32, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	binary.Write(buf, binary.LittleEndian, header)
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, floatToPCM16(s))
	}
	return buf.Bytes()
}

// DecodeWAV parses a WAV object back into float32 samples and its sample
// rate. Both 16-bit PCM and 32-bit float payloads are accepted.
func DecodeWAV(data []byte) ([]float32, int, *VoiceError) {
	if len(data) < 44 {
		return nil, 0, NewDecodeError("audio payload too short for a WAV header")
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, 0, NewDecodeError(err.Error())
	}

	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, NewDecodeError("payload is not a WAV object")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, 0, NewDecodeError("unexpected WAV chunk layout")
	}

	body := data[44:]
	if int(header.Subchunk2Size) < len(body) {
		body = body[:header.Subchunk2Size]
	}

	switch {
	case header.AudioFormat == 1 && header.BitsPerSample == 16:
		samples := make([]float32, len(body)/2)
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(body[i*2 : i*2+2]))
			samples[i] = float32(v) / 32768.0
		}
		return samples, int(header.SampleRate), nil
	case header.AudioFormat == 3 && header.BitsPerSample == 32:
		samples := make([]float32, len(body)/4)
		for i := range samples {
			bits := binary.LittleEndian.Uint32(body[i*4 : i*4+4])
			samples[i] = math.Float32frombits(bits)
		}
		return samples, int(header.SampleRate), nil
	default:
		return nil, 0, NewDecodeError("unsupported WAV sample format")
	}
}

// audioFormat identifies the container of a speech payload.
type audioFormat int

const (
	formatUnknown audioFormat = iota
	formatWAV
	formatMP3
)

func detectAudioFormat(data []byte) audioFormat {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return formatWAV
	}
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return formatMP3
	}
	// MPEG frame sync: eleven set bits.
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return formatMP3
	}
	return formatUnknown
}

// DecodeMP3 decodes an MPEG audio payload into mono float32 samples and its
// sample rate.
func DecodeMP3(data []byte) ([]float32, int, *VoiceError) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, NewDecodeError(err.Error())
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, NewDecodeError(err.Error())
	}

	// The decoder always emits 16-bit little-endian stereo; downmix to mono.
	frames := len(pcm) / 4
	if frames == 0 {
		return nil, 0, NewDecodeError("mpeg payload contains no audio frames")
	}
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		samples[i] = (float32(left) + float32(right)) / 2 / 32768.0
	}
	return samples, decoder.SampleRate(), nil
}

// DecodeSpeech decodes a synthesized speech payload. The backend's TTS
// serves MP3 by default and WAV when configured; both are accepted.
func DecodeSpeech(data []byte) ([]float32, int, *VoiceError) {
	switch detectAudioFormat(data) {
	case formatWAV:
		return DecodeWAV(data)
	case formatMP3:
		return DecodeMP3(data)
	default:
		return nil, 0, NewDecodeError("unrecognized audio payload format")
	}
}

func floatToPCM16(s float32) int16 {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767)
}

// Audio encoding helpers
func EncodeAudioToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func DecodeAudioFromBase64(encoded string) ([]byte, *VoiceError) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, NewDecodeError(err.Error())
	}
	return data, nil
}

// Audio processing utilities
func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	sum := float64(0)
	for _, sample := range samples {
		sum += float64(sample * sample)
	}

	return float32(math.Sqrt(sum / float64(len(samples))))
}

func CalculateAmplitude(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	sum := float64(0)
	for _, sample := range samples {
		sum += math.Abs(float64(sample))
	}
	return float32(sum / float64(len(samples)))
}

func NormalizeAudio(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	maxAmp := float32(0)
	for _, sample := range samples {
		if abs := float32(math.Abs(float64(sample))); abs > maxAmp {
			maxAmp = abs
		}
	}

	if maxAmp == 0 {
		return samples
	}

	// Normalize to prevent clipping
	scale := float32(0.95) / maxAmp
	normalized := make([]float32, len(samples))
	for i, sample := range samples {
		normalized[i] = sample * scale
	}

	return normalized
}
