package frame

import (
	"math"
	"testing"
)

func TestYUYVToGray(t *testing.T) {
	in := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	got, err := YUYVToGray(in, 4, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0, 2, 4, 6, 8, 10, 12, 14}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestYUYVToGrayInvalidLength(t *testing.T) {
	_, err := YUYVToGray([]byte{1, 2, 3}, 4, 2)
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
	ile, ok := err.(*InvalidLengthError)
	if !ok {
		t.Fatalf("expected *InvalidLengthError, got %T", err)
	}
	if ile.Expected != 16 || ile.Actual != 3 {
		t.Fatalf("unexpected fields: %+v", ile)
	}
}

func TestY16ToGray(t *testing.T) {
	// Two pixels: 0x1234 and 0xABCD, little-endian -> high bytes 0x12, 0xAB
	in := []byte{0x34, 0x12, 0xCD, 0xAB}
	got, err := Y16ToGray(in, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x12, 0xAB}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestIsDark(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"all zero", make([]byte, 1000), true},
		{"all bright", bytesOf(1000, 128), false},
		{"mostly dark", append(bytesOf(960, 10), bytesOf(40, 128)...), true},
		{"borderline bright", append(bytesOf(940, 10), bytesOf(60, 128)...), false},
		{"empty", nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := IsDark(c.buf, DefaultDarkFraction)
			if got != c.want {
				t.Fatalf("IsDark() = %v, want %v", got, c.want)
			}
		})
	}
}

func bytesOf(n int, v byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCLAHEIncreasesStdDev(t *testing.T) {
	const size = 16
	gray := make([]byte, size*size)
	for i := range gray {
		gray[i] = byte(100 + i%11)
	}

	before := stdDev(gray)
	out := CLAHE(gray, size, size)
	if len(out) != len(gray) {
		t.Fatalf("CLAHE changed pixel count: got %d want %d", len(out), len(gray))
	}
	after := stdDev(out)
	if after <= before {
		t.Fatalf("CLAHE did not increase stddev: before=%f after=%f", before, after)
	}
}

func stdDev(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, b := range buf {
		sum += float64(b)
	}
	mean := sum / float64(len(buf))
	var sq float64
	for _, b := range buf {
		d := float64(b) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(buf)))
}
