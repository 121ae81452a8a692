package feature

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/haivivi/earshot/pkg/audio/wav"
)

func sinePCM(rate, n int, freq float64, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWindows(t *testing.T) {
	hm := hammingWindow(320)
	if math.Abs(hm[0]-0.08) > 0.01 {
		t.Errorf("hamming[0] = %f, want ~0.08", hm[0])
	}
	if math.Abs(hm[159]-1.0) > 0.02 {
		t.Errorf("hamming[159] = %f, want ~1.0", hm[159])
	}

	hn := hannWindow(512)
	if hn[0] > 1e-9 {
		t.Errorf("hann[0] = %f, want 0", hn[0])
	}
	if math.Abs(hn[255]-1.0) > 0.01 {
		t.Errorf("hann[255] = %f, want ~1.0", hn[255])
	}
}

func TestFFTKnownSignal(t *testing.T) {
	// DC + 1Hz cosine in an 8-sample window
	n := 8
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = 1.0 + math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	fft(re, im)

	if math.Abs(re[0]-float64(n)) > 0.01 {
		t.Errorf("DC = %f, want %d", re[0], n)
	}
	if math.Abs(re[1]-float64(n)/2) > 0.01 {
		t.Errorf("H1 real = %f, want %f", re[1], float64(n)/2)
	}
}

func TestDCTTable(t *testing.T) {
	table := dctTable(128, 128)
	if len(table) != 128 || len(table[0]) != 128 {
		t.Fatalf("table is %dx%d, want 128x128", len(table), len(table[0]))
	}
	// Row 0 of an orthonormal DCT-II is the constant 1/sqrt(N).
	want := 1.0 / math.Sqrt(128)
	for n, v := range table[0] {
		if math.Abs(v-want) > 1e-12 {
			t.Fatalf("table[0][%d] = %v, want %v", n, v, want)
		}
	}
	// Distinct rows are orthogonal.
	dot := 0.0
	for n := range table[1] {
		dot += table[1][n] * table[2][n]
	}
	if math.Abs(dot) > 1e-9 {
		t.Errorf("rows 1 and 2 dot product = %v, want ~0", dot)
	}
}

func TestMFCCShape(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.FeatureDim() != 128 {
		t.Fatalf("FeatureDim = %d, want 128", e.FeatureDim())
	}

	n := 16000
	m, err := e.Extract(sinePCM(16000, n, 440, 8000))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	wantT := (n-512)/128 + 1
	if m.Freq != 128 || m.Time != wantT {
		t.Fatalf("matrix = (%d, %d), want (128, %d)", m.Freq, m.Time, wantT)
	}
	for i, v := range m.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Data[%d] = %f (not finite)", i, v)
		}
	}
}

func TestSpectrogramShape(t *testing.T) {
	e, err := New(DefaultSpectrogramConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.FeatureDim() != 257 {
		t.Fatalf("FeatureDim = %d, want 257", e.FeatureDim())
	}

	n := 16000
	m, err := e.Extract(sinePCM(16000, n, 440, 8000))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	wantT := (n-320)/160 + 1
	if m.Freq != 257 || m.Time != wantT {
		t.Fatalf("matrix = (%d, %d), want (257, %d)", m.Freq, m.Time, wantT)
	}
}

func TestFrameCounts(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tests := []struct {
		samples, frames int
	}{
		{511, 0},
		{512, 1},
		{639, 1},
		{640, 2},
		{512 + 236*128, 237},
		{512 + 149*128, 150},
	}
	for _, tt := range tests {
		if got := e.Frames(tt.samples); got != tt.frames {
			t.Errorf("Frames(%d) = %d, want %d", tt.samples, got, tt.frames)
		}
	}
}

func TestExtractTooShort(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = e.Extract(make([]float32, 100))
	if !errors.Is(err, wav.ErrInvalidAudio) {
		t.Errorf("short input error = %v, want ErrInvalidAudio", err)
	}
	_, err = e.Extract(nil)
	if !errors.Is(err, wav.ErrInvalidAudio) {
		t.Errorf("empty input error = %v, want ErrInvalidAudio", err)
	}
}

func TestNormalize(t *testing.T) {
	pcm := sinePCM(16000, 8000, 440, 8000)

	plain, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cfg := DefaultMFCCConfig()
	cfg.Normalize = true
	cfg.Mean = DefaultMean
	cfg.Std = DefaultStd
	normed, err := New(cfg)
	if err != nil {
		t.Fatalf("New(normalized) failed: %v", err)
	}

	a, err := plain.Extract(pcm)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	b, err := normed.Extract(pcm)
	if err != nil {
		t.Fatalf("Extract(normalized) failed: %v", err)
	}

	for i := range a.Data {
		want := (a.Data[i] - DefaultMean) / DefaultStd
		if math.Abs(float64(b.Data[i]-want)) > 1e-6 {
			t.Fatalf("Data[%d] = %v, want %v", i, b.Data[i], want)
		}
	}
}

func TestNormalizeRequiresStd(t *testing.T) {
	cfg := DefaultMFCCConfig()
	cfg.Normalize = true
	if _, err := New(cfg); err == nil {
		t.Error("New with zero std succeeded, want error")
	}
}

func TestExtractDeterministic(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pcm := sinePCM(16000, 12000, 523, 6000)
	a, err := e.Extract(pcm)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	b, err := e.Extract(pcm)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Data[%d] differs between runs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestExtractInt16KeepsScale(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	raw := make([]int16, 16000)
	for i := range raw {
		raw[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	pcm := make([]float32, len(raw))
	for i, s := range raw {
		pcm[i] = float32(s)
	}

	a, err := e.ExtractInt16(raw)
	if err != nil {
		t.Fatalf("ExtractInt16 failed: %v", err)
	}
	b, err := e.Extract(pcm)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Data[%d] = %v, want %v (int16 path must not rescale)", i, a.Data[i], b.Data[i])
		}
	}
}

func TestExtractFile(t *testing.T) {
	raw := make([]int16, 16000)
	for i := range raw {
		raw[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wav.Encode(f, &wav.Audio{SampleRate: 16000, Channels: 1, Samples: raw}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f.Close()

	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := e.ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile failed: %v", err)
	}
	want, err := e.ExtractInt16(raw)
	if err != nil {
		t.Fatalf("ExtractInt16 failed: %v", err)
	}
	if got.Freq != want.Freq || got.Time != want.Time {
		t.Fatalf("ExtractFile = (%d, %d), want (%d, %d)", got.Freq, got.Time, want.Freq, want.Time)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("Data[%d] differs from direct extraction", i)
		}
	}
}

func TestExtractFileResamples(t *testing.T) {
	raw := make([]int16, 8000)
	for i := range raw {
		raw[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/8000))
	}
	path := filepath.Join(t.TempDir(), "slow.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wav.Encode(f, &wav.Audio{SampleRate: 8000, Channels: 1, Samples: raw}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f.Close()

	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m, err := e.ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile failed: %v", err)
	}
	// One second of audio at any input rate lands at 16000 samples.
	wantT := (16000-512)/128 + 1
	if m.Time != wantT {
		t.Errorf("Time = %d, want %d", m.Time, wantT)
	}
}

func TestExtractFileMissing(t *testing.T) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = e.ExtractFile(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, wav.ErrInvalidAudio) {
		t.Errorf("missing file error = %v, want ErrInvalidAudio", err)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{Transform: MFCC, SampleRate: 0, WindowSize: 512, HopSize: 128},
		{Transform: MFCC, SampleRate: 16000, WindowSize: 0, HopSize: 128},
		{Transform: MFCC, SampleRate: 16000, WindowSize: 512, HopSize: 0},
		{Transform: MFCC, SampleRate: 16000, WindowSize: 512, HopSize: 128, FFTSize: 500},
		{Transform: MFCC, SampleRate: 16000, WindowSize: 512, HopSize: 128, FFTSize: 256},
		{Transform: MFCC, SampleRate: 16000, WindowSize: 512, HopSize: 128, FFTSize: 512},
		{Transform: Transform(99), SampleRate: 16000, WindowSize: 512, HopSize: 128},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("config %d accepted, want error", i)
		}
	}
}

func TestParseTransform(t *testing.T) {
	if tr, err := ParseTransform("mfcc"); err != nil || tr != MFCC {
		t.Errorf("ParseTransform(mfcc) = %v, %v", tr, err)
	}
	if tr, err := ParseTransform("spectrogram"); err != nil || tr != Spectrogram {
		t.Errorf("ParseTransform(spectrogram) = %v, %v", tr, err)
	}
	if _, err := ParseTransform("plp"); err == nil {
		t.Error("ParseTransform(plp) succeeded, want error")
	}
}

func TestMatrixOps(t *testing.T) {
	m := NewMatrix(2, 3)
	m.Set(0, 0, 1)
	m.Set(1, 2, 6)
	if m.At(0, 0) != 1 || m.At(1, 2) != 6 {
		t.Fatalf("At returned wrong values")
	}

	fr := m.Frame(2)
	if len(fr) != 2 || fr[1] != 6 {
		t.Errorf("Frame(2) = %v", fr)
	}

	c := m.Clone()
	c.Set(0, 0, 9)
	if m.At(0, 0) != 1 {
		t.Error("Clone shares storage with original")
	}
}

func TestConcat(t *testing.T) {
	a := &Matrix{Freq: 2, Time: 2, Data: []float32{1, 2, 5, 6}}
	b := &Matrix{Freq: 2, Time: 1, Data: []float32{3, 7}}
	got, err := Concat(a, nil, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	want := []float32{1, 2, 3, 5, 6, 7}
	if got.Freq != 2 || got.Time != 3 {
		t.Fatalf("Concat = (%d, %d), want (2, 3)", got.Freq, got.Time)
	}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("Data[%d] = %v, want %v", i, got.Data[i], want[i])
		}
	}

	if _, err := Concat(a, &Matrix{Freq: 3, Time: 1, Data: make([]float32, 3)}); err == nil {
		t.Error("Concat with mismatched freq succeeded, want error")
	}
	if _, err := Concat(); err == nil {
		t.Error("Concat of nothing succeeded, want error")
	}
}

func BenchmarkExtractMFCC(b *testing.B) {
	e, err := New(DefaultMFCCConfig())
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	pcm := sinePCM(16000, 48000, 440, 8000)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_, _ = e.Extract(pcm)
	}
}
