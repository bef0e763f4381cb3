package tts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(a Audio) ([]byte, error) {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %d Hz/%d ch", a.SampleRate, a.Channels)
	}
	samples := make([]int, len(a.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(a.PCM[i*2:])))
	}
	out := &seekBuffer{}
	enc := wav.NewEncoder(out, a.SampleRate, 16, a.Channels, 1)
	err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: a.Channels, SampleRate: a.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.buf, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(s.pos)
	case io.SeekEnd:
		base = int64(len(s.buf))
	default:
		return 0, errors.New("seek: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	s.pos = int(next)
	return next, nil
}

// DecodeWAV reads a RIFF/WAVE payload and returns its samples as 16-bit PCM.
func DecodeWAV(data []byte) (Audio, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Audio{}, errors.New("payload is not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Audio{}, errors.New("wav file has no usable format")
	}

	shift := int(dec.BitDepth) - 16
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case dec.BitDepth == 8:
			v = (v - 128) << 8
		case shift > 0:
			v >>= shift
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return Audio{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels, PCM: pcm}, nil
}

// parsePCMMime extracts the sample rate from "audio/L16;codec=pcm;rate=24000".
func parsePCMMime(mime string, fallback int) (int, error) {
	parts := strings.Split(mime, ";")
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "audio/L16") && !strings.EqualFold(strings.TrimSpace(parts[0]), "audio/pcm") {
		return 0, fmt.Errorf("unsupported audio mime type %q", mime)
	}
	rate := fallback
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(key, "rate") {
			parsed, err := strconv.Atoi(value)
			if err != nil || parsed <= 0 {
				return 0, fmt.Errorf("invalid rate in mime type %q", mime)
			}
			rate = parsed
		}
	}
	return rate, nil
}
