package level

import (
	"math"
	"testing"
)

func TestSampleSilentFrame(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 1)

	frame := make([]int16, 160)
	result := analyzer.Sample(frame)

	if result.Level != 0 {
		t.Errorf("Expected level 0 for silent frame, got %f", result.Level)
	}
	if result.Active {
		t.Error("Expected silent frame inactive")
	}
}

func TestSampleEmptyFrame(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 1)

	result := analyzer.Sample(nil)

	if result.Level != 0 {
		t.Errorf("Expected level 0 for empty frame, got %f", result.Level)
	}
	if result.Active {
		t.Error("Expected empty frame inactive")
	}
}

func TestEmptyFrameAfterLoudFramesIsLevelZero(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 5)

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 9830
	}
	for i := 0; i < 4; i++ {
		analyzer.Sample(loud)
	}

	// A missing frame reports no energy even while the smoothing window
	// still holds the loud history.
	result := analyzer.Sample(nil)
	if result.Level != 0 {
		t.Errorf("Expected level 0 for empty frame after speech, got %f", result.Level)
	}
	if result.Active {
		t.Error("Expected empty frame inactive after speech")
	}
}

func TestSampleLoudFrame(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 1)

	// Constant amplitude of ~10% full scale.
	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = 3277
	}

	result := analyzer.Sample(frame)

	if !result.Active {
		t.Error("Expected loud frame active")
	}

	want := 3277.0 / 32768.0 * 100
	if math.Abs(result.Level-want) > 0.1 {
		t.Errorf("Expected level ~%.2f, got %.2f", want, result.Level)
	}
}

func TestLevelBoundedAt100(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 1)

	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = math.MaxInt16
	}

	result := analyzer.Sample(frame)
	if result.Level > 100 {
		t.Errorf("Expected level capped at 100, got %f", result.Level)
	}
}

func TestSmoothingSuppressesSingleSpike(t *testing.T) {
	// With a 3-frame window and a high threshold, one loud frame after
	// silence must not flip the activity flag.
	analyzer := NewAnalyzer(15.0, 3)

	silent := make([]int16, 160)
	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 9830 // ~30% full scale
	}

	analyzer.Sample(silent)
	analyzer.Sample(silent)
	result := analyzer.Sample(loud)

	if result.Active {
		t.Errorf("Expected smoothed spike inactive, level %f", result.Level)
	}

	// Sustained loudness does clear the threshold.
	analyzer.Sample(loud)
	result = analyzer.Sample(loud)
	if !result.Active {
		t.Errorf("Expected sustained speech active, level %f", result.Level)
	}
}

func TestResetClearsWindowAndStats(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 5)

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 9830
	}
	for i := 0; i < 5; i++ {
		analyzer.Sample(loud)
	}

	analyzer.Reset()

	stats := analyzer.GetStats()
	if stats.FramesSampled != 0 {
		t.Errorf("Expected 0 frames after reset, got %d", stats.FramesSampled)
	}
	if stats.LastLevel != 0 {
		t.Errorf("Expected last level 0 after reset, got %f", stats.LastLevel)
	}

	// A silent frame after reset must not inherit the loud window.
	result := analyzer.Sample(make([]int16, 160))
	if result.Active {
		t.Error("Expected silence inactive after reset")
	}
}

func TestGetStats(t *testing.T) {
	analyzer := NewAnalyzer(2.0, 1)

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 3277
	}

	analyzer.Sample(loud)
	analyzer.Sample(make([]int16, 160))

	stats := analyzer.GetStats()
	if stats.FramesSampled != 2 {
		t.Errorf("Expected 2 frames sampled, got %d", stats.FramesSampled)
	}
	if stats.ActiveFrames != 1 {
		t.Errorf("Expected 1 active frame, got %d", stats.ActiveFrames)
	}
	if stats.ActivePercentage != 50 {
		t.Errorf("Expected 50%% active, got %f", stats.ActivePercentage)
	}
	if stats.Threshold != 2.0 {
		t.Errorf("Expected threshold 2.0, got %f", stats.Threshold)
	}
}
