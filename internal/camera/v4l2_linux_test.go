//go:build linux

package camera

import "testing"

func TestAcceptedPixFmt(t *testing.T) {
	cases := []struct {
		name string
		fmt  uint32
		want bool
	}{
		{"yuyv", v4l2PixFmtYUYV, true},
		{"grey", v4l2PixFmtGREY, true},
		{"y16 space", v4l2PixFmtY16, true},
		{"y16 null", v4l2PixFmtY16Null, true},
		{"rgb24 rejected", 0x33424752, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := acceptedPixFmt(c.fmt); got != c.want {
				t.Fatalf("acceptedPixFmt(0x%x) = %v, want %v", c.fmt, got, c.want)
			}
		})
	}
}

func TestBytesPerLine(t *testing.T) {
	if got := bytesPerLine(v4l2PixFmtYUYV, 640); got != 1280 {
		t.Fatalf("YUYV stride = %d, want 1280", got)
	}
	if got := bytesPerLine(v4l2PixFmtGREY, 640); got != 640 {
		t.Fatalf("GREY stride = %d, want 640", got)
	}
	if got := bytesPerLine(v4l2PixFmtY16, 640); got != 1280 {
		t.Fatalf("Y16 stride = %d, want 1280", got)
	}
}
