// ABOUTME: Tests for the streaming resampler
// ABOUTME: Checks interpolation and continuity across block boundaries
package resample

import "testing"

func TestUpsampleContinuousAcrossCalls(t *testing.T) {
	r := New(22050, 44100, 1)

	out := make([]int16, r.OutputSamplesNeeded(3))
	n := r.Resample([]int16{0, 100, 200}, out)
	want := []int16{0, 50, 100, 150}
	if n != len(want) {
		t.Fatalf("first block produced %d samples, want %d", n, len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("first block [%d] = %d, want %d", i, out[i], want[i])
		}
	}

	out = make([]int16, r.OutputSamplesNeeded(1))
	n = r.Resample([]int16{300}, out)
	want = []int16{200, 250}
	if n != len(want) {
		t.Fatalf("second block produced %d samples, want %d", n, len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("second block [%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestDownsampleStereo(t *testing.T) {
	r := New(48000, 24000, 2)
	in := []int16{0, 0, 10, -10, 20, -20, 30, -30, 40, -40}
	out := make([]int16, r.OutputSamplesNeeded(len(in)))
	n := r.Resample(in, out)
	if n%2 != 0 {
		t.Fatalf("odd sample count %d", n)
	}
	want := []int16{0, 0, 20, -20}
	if n < len(want) {
		t.Fatalf("produced %d samples", n)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestResetForgetsHistory(t *testing.T) {
	r := New(22050, 44100, 1)
	out := make([]int16, 16)
	r.Resample([]int16{1000, 1000}, out)
	r.Reset()

	n := r.Resample([]int16{0, 0}, out)
	for i := 0; i < n; i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %d after reset", i, out[i])
		}
	}
}
