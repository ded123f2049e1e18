// Package pcm decodes uploaded audio into mono float64 PCM at a fixed sample
// rate for the Analyzer, and shells out to an external transcoder binary for
// containers the native decoder can't read (spec §4.1).
package pcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/infinitymix/engine/internal/apierr"
)

// Buffer is mono PCM at SampleRate, the common currency the Analyzer and
// StemEngine consume.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the buffer's length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Decoder turns arbitrary upload bytes into a mono Buffer at targetRate.
type Decoder struct {
	TranscoderPath string
	TargetRate     int
}

func NewDecoder(transcoderPath string, targetRate int) *Decoder {
	return &Decoder{TranscoderPath: transcoderPath, TargetRate: targetRate}
}

// Decode dispatches on mime: native go-audio/wav for audio/wav, external
// transcoder for everything else. A hard deadline is enforced via ctx
// (spec §6.6's DECODE_TIMEOUT_SECONDS).
func (dc *Decoder) Decode(ctx context.Context, mime string, data []byte) (*Buffer, error) {
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return dc.decodeWAV(data)
	default:
		return dc.decodeViaTranscoder(ctx, data)
	}
}

func (dc *Decoder) decodeWAV(data []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, apierr.New(apierr.KindDecode, "not a valid WAV file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDecode, "read wav pcm", err)
	}

	mono := downmixAndResample(buf, dc.TargetRate)
	return mono, nil
}

// decodeViaTranscoder shells out to an external binary (ffmpeg by
// convention) that reads the upload from stdin and writes 32-bit float
// little-endian mono PCM at TargetRate to stdout.
func (dc *Decoder) decodeViaTranscoder(ctx context.Context, data []byte) (*Buffer, error) {
	if dc.TranscoderPath == "" {
		return nil, apierr.New(apierr.KindDecode, "no transcoder configured for non-wav input")
	}
	if _, err := exec.LookPath(dc.TranscoderPath); err != nil {
		return nil, apierr.Wrap(apierr.KindDecode, "transcoder binary not found", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", dc.TargetRate),
		"-f", "f32le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, dc.TranscoderPath, args...)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindTimeout, "transcode deadline exceeded", ctx.Err())
		}
		return nil, apierr.Wrap(apierr.KindDecode, "transcode failed: "+stderr.String(), err)
	}

	return &Buffer{Samples: DecodeFloat32LE(stdout.Bytes()), SampleRate: dc.TargetRate}, nil
}

// downmixAndResample collapses all channels to mono by averaging and
// linearly resamples to targetRate. go-audio's IntBuffer stores interleaved
// integer samples normalized against its own bit depth.
func downmixAndResample(buf *audio.IntBuffer, targetRate int) *Buffer {
	format := buf.Format
	channels := 1
	srcRate := targetRate
	if format != nil {
		channels = format.NumChannels
		srcRate = format.SampleRate
	}
	if channels < 1 {
		channels = 1
	}

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	maxVal := float64(int(1) << (uint(buf.SourceBitDepth) - 1))
	if buf.SourceBitDepth == 0 {
		maxVal = 32768
	}

	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = (sum / float64(channels)) / maxVal
	}

	if srcRate == targetRate || srcRate == 0 {
		return &Buffer{Samples: mono, SampleRate: targetRate}
	}
	return &Buffer{Samples: resampleLinear(mono, srcRate, targetRate), SampleRate: targetRate}
}

func resampleLinear(in []float64, srcRate, dstRate int) []float64 {
	if len(in) == 0 || srcRate == dstRate {
		return in
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(in)) / ratio)
	out := make([]float64, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		lo := int(srcPos)
		frac := srcPos - float64(lo)
		hi := lo + 1
		if hi >= len(in) {
			hi = len(in) - 1
		}
		out[i] = in[lo]*(1-frac) + in[hi]*frac
	}
	return out
}

// NewFloat32Reader encodes samples as f32le PCM, the wire format the
// transcoder and local stem-separation binaries both read on stdin.
func NewFloat32Reader(samples []float64) *bytes.Reader {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(float32(s)))
	}
	return bytes.NewReader(buf)
}

// DecodeFloat32LE reverses NewFloat32Reader's encoding.
func DecodeFloat32LE(raw []byte) []float64 {
	samples := make([]float64, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = float64(math.Float32frombits(bits))
	}
	return samples
}

// EncodeWAV serializes a mono Buffer as 16-bit PCM WAV, the format the
// StemEngine's separated stems are persisted in.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	out := &bytes.Buffer{}
	enc := wav.NewEncoder(out, buf.SampleRate, 16, 1, 1)

	ints := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		ints[i] = v
	}

	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("pcm: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("pcm: close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeTimeout builds a context bound to the configured decode deadline
// (spec §6.6's DECODE_TIMEOUT_SECONDS), so callers don't duplicate the default.
func DecodeTimeout(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = 60
	}
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}
