package space

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

func mixedSpace(t *testing.T) *Space {
	t.Helper()
	s, err := New([]Parameter{
		{Name: "threshold", Lower: 5, Upper: 50},
		{Name: "snr", Lower: 0.01, Upper: 10, Scale: Log},
		{Name: "min_peaks", Lower: 2, Upper: 9, Kind: Ordinal, Step: 1},
		{Name: "frac", Lower: 0, Upper: 0.3, Kind: Ordinal, Step: 0.1},
	})
	require.NoError(t, err)
	return s
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name  string
		param Parameter
	}{
		{"inverted", Parameter{Name: "x", Lower: 1, Upper: 0}},
		{"empty name", Parameter{Lower: 0, Upper: 1}},
		{"log non-positive", Parameter{Name: "x", Lower: 0, Upper: 1, Scale: Log}},
		{"negative step", Parameter{Name: "x", Lower: 0, Upper: 1, Kind: Ordinal, Step: -1}},
		{"infinite", Parameter{Name: "x", Lower: 0, Upper: math.Inf(1)}},
		{"unknown kind", Parameter{Name: "x", Lower: 0, Upper: 1, Kind: "categorical"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]Parameter{tt.param})
			var rangeErr *InvalidRangeError
			require.True(t, errors.As(err, &rangeErr), "expected InvalidRangeError, got %v", err)
		})
	}

	_, err := New([]Parameter{{Name: "x", Upper: 1}, {Name: "x", Upper: 1}})
	var rangeErr *InvalidRangeError
	assert.True(t, errors.As(err, &rangeErr))

	_, err = New(nil)
	assert.Error(t, err)
}

func TestSampleRandomWithinBounds(t *testing.T) {
	s := mixedSpace(t)
	vectors, err := s.SampleRandom(utils.NewRandSource(3), 500)
	require.NoError(t, err)
	require.Len(t, vectors, 500)

	for _, v := range vectors {
		require.True(t, s.Contains(v), "sample out of bounds: %s", v)
		peaks, _ := v.Value("min_peaks")
		assert.Equal(t, math.Round(peaks), peaks, "ordinal must be snapped")
	}
}

func TestSampleRandomDeterministic(t *testing.T) {
	s := mixedSpace(t)
	a, err := s.SampleRandom(utils.NewRandSource(11), 10)
	require.NoError(t, err)
	b, err := s.SampleRandom(utils.NewRandSource(11), 10)
	require.NoError(t, err)

	for i := range a {
		assert.True(t, a[i].Equal(b[i]))
	}
}

func TestSampleRandomLogScaleSpreadsAcrossDecades(t *testing.T) {
	s, err := New([]Parameter{{Name: "snr", Lower: 0.001, Upper: 1, Scale: Log}})
	require.NoError(t, err)

	vectors, err := s.SampleRandom(utils.NewRandSource(5), 900)
	require.NoError(t, err)

	small := 0
	for _, v := range vectors {
		if x, _ := v.Value("snr"); x < 0.01 {
			small++
		}
	}
	// one third of the log range lies below 0.01
	assert.InDelta(t, 300, small, 75)
}

func TestZeroWidthRule(t *testing.T) {
	s, err := New([]Parameter{
		{Name: "x", Lower: 0, Upper: 1},
		{Name: "fixed", Lower: 3, Upper: 3},
	})
	require.NoError(t, err)

	one, err := s.SampleRandom(utils.NewRandSource(1), 1)
	require.NoError(t, err)
	fixed, _ := one[0].Value("fixed")
	assert.Equal(t, 3.0, fixed)

	_, err = s.SampleRandom(utils.NewRandSource(1), 2)
	var rangeErr *InvalidRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, "fixed", rangeErr.Parameter)

	_, err = s.CandidateGrid(3)
	assert.True(t, errors.As(err, &rangeErr))

	grid, err := s.CandidateGrid(1)
	require.NoError(t, err)
	assert.Len(t, grid, 1)
}

func TestCandidateGrid(t *testing.T) {
	s, err := New([]Parameter{
		{Name: "x", Lower: 0, Upper: 1},
		{Name: "y", Lower: 10, Upper: 20},
	})
	require.NoError(t, err)

	grid, err := s.CandidateGrid(3)
	require.NoError(t, err)
	require.Len(t, grid, 9)
	assert.Equal(t, 9, s.GridSize(3))

	assert.Equal(t, []float64{0, 10}, grid[0].Values())
	assert.Equal(t, []float64{0, 15}, grid[1].Values())
	assert.Equal(t, []float64{1, 20}, grid[8].Values())

	again, err := s.CandidateGrid(3)
	require.NoError(t, err)
	for i := range grid {
		assert.True(t, grid[i].Equal(again[i]))
	}
}

func TestCandidateGridWithinBounds(t *testing.T) {
	s := mixedSpace(t)
	grid, err := s.CandidateGrid(5)
	require.NoError(t, err)
	assert.Equal(t, s.GridSize(5), len(grid))

	for _, v := range grid {
		require.True(t, s.Contains(v), "grid point out of bounds: %s", v)
	}
}

func TestCandidateGridOrdinalLevels(t *testing.T) {
	s, err := New([]Parameter{{Name: "n", Lower: 1, Upper: 3, Kind: Ordinal}})
	require.NoError(t, err)

	grid, err := s.CandidateGrid(10)
	require.NoError(t, err)
	require.Len(t, grid, 3)
	for i, want := range []float64{1, 2, 3} {
		got, _ := grid[i].Value("n")
		assert.Equal(t, want, got)
	}

	wide, err := New([]Parameter{{Name: "n", Lower: 0, Upper: 100, Kind: Ordinal}})
	require.NoError(t, err)
	grid, err = wide.CandidateGrid(5)
	require.NoError(t, err)
	require.Len(t, grid, 5)
	first, _ := grid[0].Value("n")
	last, _ := grid[4].Value("n")
	assert.Equal(t, 0.0, first)
	assert.Equal(t, 100.0, last)
}

func TestGridSizeSaturates(t *testing.T) {
	params := make([]Parameter, 40)
	for i := range params {
		params[i] = Parameter{Name: string(rune('a'+i%26)) + string(rune('a'+i/26)), Lower: 0, Upper: 1}
	}
	s, err := New(params)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, s.GridSize(10))
}

func TestNormalize(t *testing.T) {
	s, err := New([]Parameter{
		{Name: "x", Lower: 10, Upper: 20},
		{Name: "snr", Lower: 1, Upper: 100, Scale: Log},
	})
	require.NoError(t, err)

	v, err := models.NewParameterVector([]string{"x", "snr"}, []float64{15, 10})
	require.NoError(t, err)

	got := s.Normalize(v)
	assert.InDelta(t, 0.5, got[0], 1e-12)
	assert.InDelta(t, 0.5, got[1], 1e-12)
}

func TestVectorSnapsAndClamps(t *testing.T) {
	s := mixedSpace(t)
	v, err := s.Vector([]float64{100, 0.5, 4.6, 0.31})
	require.NoError(t, err)

	assert.Equal(t, []float64{50, 0.5, 5, 0.3}, v.Values())
	assert.True(t, s.Contains(v))

	_, err = s.Vector([]float64{1})
	assert.Error(t, err)
}

func TestContains(t *testing.T) {
	s, err := New([]Parameter{{Name: "x", Lower: 0, Upper: 1}})
	require.NoError(t, err)

	in, _ := models.NewParameterVector([]string{"x"}, []float64{0.5})
	out, _ := models.NewParameterVector([]string{"x"}, []float64{1.5})
	other, _ := models.NewParameterVector([]string{"y"}, []float64{0.5})

	assert.True(t, s.Contains(in))
	assert.False(t, s.Contains(out))
	assert.False(t, s.Contains(other))
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig([]config.Parameter{
		{Name: "a", Lower: 1, Upper: 2, Type: "continuous", Scale: "linear"},
		{Name: "b", Lower: 1, Upper: 5, Type: "ordinal", Scale: "linear", Step: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Dim())
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Equal(t, Ordinal, s.Parameters()[1].Kind)
}
