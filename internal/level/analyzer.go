package level

import (
	"math"
	"sync"
)

// fullScale is the maximum magnitude of a 16-bit PCM sample.
const fullScale = 32768.0

// ActivityLevel is the normalized activity signal for one audio frame.
type ActivityLevel struct {
	Level  float64 `json:"level"`  // 0-100, RMS energy against full scale
	Active bool    `json:"active"` // whether the frame clears the activity threshold
}

// Analyzer converts raw PCM frames into ActivityLevel values. It keeps a
// small moving-average window so a single quiet frame inside an utterance
// does not flip the activity flag.
type Analyzer struct {
	threshold float64
	window    []float64
	windowPos int
	windowLen int

	// Statistics
	framesSampled uint64
	activeFrames  uint64
	lastLevel     float64

	mu sync.Mutex
}

// AnalyzerStats represents analyzer statistics for monitoring.
type AnalyzerStats struct {
	FramesSampled    uint64  `json:"frames_sampled"`
	ActiveFrames     uint64  `json:"active_frames"`
	ActivePercentage float64 `json:"active_percentage"`
	LastLevel        float64 `json:"last_level"`
	Threshold        float64 `json:"threshold"`
}

// NewAnalyzer creates a new activity analyzer. threshold is on the 0-100
// level scale; smoothingWindow is the number of frames averaged, 0 or 1
// disables smoothing.
func NewAnalyzer(threshold float64, smoothingWindow int) *Analyzer {
	if smoothingWindow < 1 {
		smoothingWindow = 1
	}

	return &Analyzer{
		threshold: threshold,
		window:    make([]float64, 0, smoothingWindow),
		windowLen: smoothingWindow,
	}
}

// Sample computes the activity level for one frame of PCM samples.
// A nil or empty frame yields level 0 and inactive.
func (a *Analyzer) Sample(frame []int16) ActivityLevel {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.framesSampled++

	if len(frame) == 0 {
		// A missing frame carries no energy, whatever the window still
		// averages to. The zero is pushed so the window decays.
		a.push(0)
		a.lastLevel = 0
		return ActivityLevel{Level: 0, Active: false}
	}

	var energy float64
	for _, sample := range frame {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(frame)))

	raw := rms / fullScale * 100
	if raw > 100 {
		raw = 100
	}

	a.push(raw)
	a.lastLevel = a.average()

	active := a.lastLevel >= a.threshold
	if active {
		a.activeFrames++
	}

	return ActivityLevel{Level: a.lastLevel, Active: active}
}

// Reset clears the smoothing window and statistics, used between sessions
// so a new recording does not inherit the previous tail.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = a.window[:0]
	a.windowPos = 0
	a.framesSampled = 0
	a.activeFrames = 0
	a.lastLevel = 0
}

// GetStats returns current analyzer statistics
func (a *Analyzer) GetStats() AnalyzerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	activePct := float64(0)
	if a.framesSampled > 0 {
		activePct = float64(a.activeFrames) / float64(a.framesSampled) * 100
	}

	return AnalyzerStats{
		FramesSampled:    a.framesSampled,
		ActiveFrames:     a.activeFrames,
		ActivePercentage: activePct,
		LastLevel:        a.lastLevel,
		Threshold:        a.threshold,
	}
}

// GetThreshold returns the configured activity threshold
func (a *Analyzer) GetThreshold() float64 {
	return a.threshold
}

func (a *Analyzer) push(value float64) {
	if len(a.window) < a.windowLen {
		a.window = append(a.window, value)
		return
	}

	a.window[a.windowPos] = value
	a.windowPos = (a.windowPos + 1) % a.windowLen
}

func (a *Analyzer) average() float64 {
	if len(a.window) == 0 {
		return 0
	}

	var sum float64
	for _, v := range a.window {
		sum += v
	}
	return sum / float64(len(a.window))
}
