// Package wav decodes RIFF/WAVE files carrying 16-bit linear PCM.
//
// Only the subset of the container needed for speech pipelines is
// supported: PCM format code 1, 16 bits per sample, any channel count
// and sample rate. Unknown chunks are skipped.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrInvalidAudio indicates the input is not decodable 16-bit PCM audio:
// unreadable file, malformed RIFF structure, unsupported encoding, or a
// stream with no samples.
var ErrInvalidAudio = errors.New("wav: invalid audio")

// Audio holds decoded PCM samples. Samples are interleaved when
// Channels > 1 and keep their native int16 magnitude.
type Audio struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration returns the playback duration.
func (a *Audio) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	frames := len(a.Samples) / a.Channels
	return time.Duration(frames) * time.Second / time.Duration(a.SampleRate)
}

// Float32 converts the samples to float32 without rescaling. Downstream
// feature normalization expects raw int16 magnitudes.
func (a *Audio) Float32() []float32 {
	out := make([]float32, len(a.Samples))
	for i, s := range a.Samples {
		out[i] = float32(s)
	}
	return out
}

// Mono downmixes interleaved channels by averaging. Already-mono audio
// is returned unchanged.
func (a *Audio) Mono() *Audio {
	if a.Channels <= 1 {
		return a
	}
	frames := len(a.Samples) / a.Channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < a.Channels; c++ {
			sum += int(a.Samples[i*a.Channels+c])
		}
		mono[i] = int16(sum / a.Channels)
	}
	return &Audio{SampleRate: a.SampleRate, Channels: 1, Samples: mono}
}

const (
	riffHeaderSize = 12
	fmtChunkSize   = 16
	formatPCM      = 1
)

// Decode reads a complete WAVE stream from r.
func Decode(r io.Reader) (*Audio, error) {
	var header [riffHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short RIFF header: %v", ErrInvalidAudio, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidAudio)
	}

	var (
		audio    Audio
		haveFmt  bool
		haveData bool
	)
	for !haveData {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("%w: reading chunk header: %v", ErrInvalidAudio, err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < fmtChunkSize {
				return nil, fmt.Errorf("%w: fmt chunk too small (%d bytes)", ErrInvalidAudio, size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: truncated fmt chunk: %v", ErrInvalidAudio, err)
			}
			format := binary.LittleEndian.Uint16(buf[0:2])
			if format != formatPCM {
				return nil, fmt.Errorf("%w: unsupported format code %d (want PCM)", ErrInvalidAudio, format)
			}
			bits := binary.LittleEndian.Uint16(buf[14:16])
			if bits != 16 {
				return nil, fmt.Errorf("%w: unsupported bit depth %d (want 16)", ErrInvalidAudio, bits)
			}
			audio.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			audio.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			if audio.Channels <= 0 || audio.SampleRate <= 0 {
				return nil, fmt.Errorf("%w: bad fmt chunk (channels=%d rate=%d)", ErrInvalidAudio, audio.Channels, audio.SampleRate)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidAudio)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: truncated data chunk: %v", ErrInvalidAudio, err)
			}
			audio.Samples = bytesToSamples(buf)
			haveData = true

		default:
			// Chunks are word-aligned; odd sizes carry a pad byte.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("%w: skipping %q chunk: %v", ErrInvalidAudio, id, err)
			}
		}
	}

	if !haveData {
		return nil, fmt.Errorf("%w: no data chunk", ErrInvalidAudio)
	}
	if len(audio.Samples) == 0 {
		return nil, fmt.Errorf("%w: empty data chunk", ErrInvalidAudio)
	}
	return &audio, nil
}

// DecodeFile opens and decodes path.
func DecodeFile(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	defer f.Close()
	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Encode writes audio back out as a minimal PCM16 WAVE stream. Used by
// tooling and tests to round-trip fixtures.
func Encode(w io.Writer, a *Audio) error {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return fmt.Errorf("wav: cannot encode audio with rate=%d channels=%d", a.SampleRate, a.Channels)
	}
	dataSize := len(a.Samples) * 2
	blockAlign := a.Channels * 2

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(a.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(a.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(a.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wav: writing header: %w", err)
	}
	buf := make([]byte, dataSize)
	for i, s := range a.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wav: writing samples: %w", err)
	}
	return nil
}

func bytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
