package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// Source supplies raw PCM frames to the capture loop. Implementations
// wrap whatever actually produces audio: a meeting-bot media stream, a
// file replay, or a synthetic generator in tests.
type Source interface {
	// ReadFrame fills up to len(frame) samples and returns the number
	// read. io.EOF signals the end of a finite source; any other error
	// is a capture fault and aborts the session start.
	ReadFrame(frame []int16) (int, error)

	// SpeakerHint reports the speaker the next frame is attributed to,
	// or "" when unknown.
	SpeakerHint() string

	Close() error
}

// FileSource replays raw PCM-16 little-endian audio from a file, used for
// offline runs and integration testing against recorded meetings.
type FileSource struct {
	file    *os.File
	speaker string
	mu      sync.Mutex
}

// NewFileSource opens a raw PCM file as a capture source.
func NewFileSource(path, speaker string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	return &FileSource{file: file, speaker: speaker}, nil
}

// ReadFrame reads the next frame of samples from the file.
func (s *FileSource) ReadFrame(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(frame)*2)
	n, err := io.ReadFull(s.file, buf)
	if err == io.ErrUnexpectedEOF {
		err = nil // partial final frame is still usable
	}
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read capture file: %w", err)
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		frame[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}

	return samples, nil
}

// SpeakerHint returns the speaker this file is attributed to.
func (s *FileSource) SpeakerHint() string { return s.speaker }

// Close closes the underlying file.
func (s *FileSource) Close() error { return s.file.Close() }

// ToneSource generates a fixed-amplitude sine tone, useful for smoke
// testing the pipeline without real audio.
type ToneSource struct {
	sampleRate int
	freq       float64
	amplitude  float64
	phase      float64
	mu         sync.Mutex
}

// NewToneSource creates a sine tone source. amplitude is relative to
// full scale (0.0-1.0).
func NewToneSource(sampleRate int, freq, amplitude float64) *ToneSource {
	return &ToneSource{sampleRate: sampleRate, freq: freq, amplitude: amplitude}
}

// ReadFrame fills the frame with the next span of the tone.
func (s *ToneSource) ReadFrame(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := 2 * math.Pi * s.freq / float64(s.sampleRate)
	for i := range frame {
		frame[i] = int16(s.amplitude * 32767 * math.Sin(s.phase))
		s.phase += step
	}
	if s.phase > 2*math.Pi {
		s.phase -= 2 * math.Pi * math.Floor(s.phase/(2*math.Pi))
	}

	return len(frame), nil
}

// SpeakerHint returns "" since a tone has no speaker.
func (s *ToneSource) SpeakerHint() string { return "" }

// Close is a no-op for the tone generator.
func (s *ToneSource) Close() error { return nil }
