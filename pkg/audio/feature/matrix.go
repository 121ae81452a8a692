package feature

import "fmt"

// Matrix is a 2-D feature matrix with Freq rows and Time columns,
// stored row-major: Data[f*Time+t]. Freq is fixed by the transform;
// Time grows with waveform duration.
type Matrix struct {
	Freq int
	Time int
	Data []float32
}

// NewMatrix allocates a zeroed freq x time matrix.
func NewMatrix(freq, time int) *Matrix {
	return &Matrix{Freq: freq, Time: time, Data: make([]float32, freq*time)}
}

// At returns the value at frequency bin f, frame t.
func (m *Matrix) At(f, t int) float32 {
	return m.Data[f*m.Time+t]
}

// Set stores v at frequency bin f, frame t.
func (m *Matrix) Set(f, t int, v float32) {
	m.Data[f*m.Time+t] = v
}

// Frame copies frame t into a new slice of length Freq.
func (m *Matrix) Frame(t int) []float32 {
	out := make([]float32, m.Freq)
	for f := 0; f < m.Freq; f++ {
		out[f] = m.Data[f*m.Time+t]
	}
	return out
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Freq: m.Freq, Time: m.Time, Data: make([]float32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Concat joins matrices along the time axis. All inputs must share the
// same frequency dimension; nil and zero-frame matrices are skipped.
func Concat(ms ...*Matrix) (*Matrix, error) {
	freq := 0
	total := 0
	for _, m := range ms {
		if m == nil || m.Time == 0 {
			continue
		}
		if freq == 0 {
			freq = m.Freq
		} else if m.Freq != freq {
			return nil, fmt.Errorf("feature: cannot concat matrices with freq %d and %d", freq, m.Freq)
		}
		total += m.Time
	}
	if freq == 0 {
		return nil, fmt.Errorf("feature: nothing to concat")
	}

	out := NewMatrix(freq, total)
	off := 0
	for _, m := range ms {
		if m == nil || m.Time == 0 {
			continue
		}
		for f := 0; f < freq; f++ {
			copy(out.Data[f*total+off:], m.Data[f*m.Time:(f+1)*m.Time])
		}
		off += m.Time
	}
	return out, nil
}
