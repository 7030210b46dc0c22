//go:build linux

package camera

import (
	"fmt"
	"strconv"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sovren-software/visage/internal/frame"
	"github.com/sovren-software/visage/internal/types"
)

// Open opens a V4L2 device by path, verifies capture+streaming
// capability, negotiates YUYV at 640x360 and accepts whatever FourCC
// the driver counter-negotiates to (so long as it's one this daemon
// can decode), and starts mmap'd streaming with numBuffers buffers.
func Open(devicePath string) (*Camera, error) {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, newErr(ErrDeviceNotFound, devicePath, err)
		}
		if err == unix.EBUSY {
			return nil, newErr(ErrDeviceBusy, devicePath, err)
		}
		return nil, newErr(ErrDeviceNotFound, "open "+devicePath, err)
	}

	cam := &Camera{fd: fd, path: devicePath}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return nil, newErr(ErrDeviceNotFound, "VIDIOC_QUERYCAP", err)
	}

	capsToCheck := caps.Capabilities
	if capsToCheck&v4l2CapDeviceCaps != 0 {
		capsToCheck = caps.DeviceCaps
	}
	if capsToCheck&v4l2CapVideoCapture == 0 {
		unix.Close(fd)
		return nil, newErr(ErrStreamingNotSupported, "device does not support video capture", nil)
	}
	if capsToCheck&v4l2CapStreaming == 0 {
		unix.Close(fd)
		return nil, newErr(ErrStreamingNotSupported, "device does not support streaming I/O", nil)
	}

	format := v4l2Format{Type: v4l2BufTypeVideoCapture}
	pix := (*v4l2PixFormat)(unsafe.Pointer(&format.fmt[0]))
	pix.Width = defaultWidth
	pix.Height = defaultHeight
	pix.Pixelformat = v4l2PixFmtYUYV
	pix.Field = v4l2FieldAny

	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		unix.Close(fd)
		return nil, newErr(ErrFormatNegotiationFailed, "VIDIOC_S_FMT", err)
	}

	negotiated := pix.Pixelformat
	if !acceptedPixFmt(negotiated) {
		unix.Close(fd)
		return nil, newErr(ErrFormatNegotiationFailed, fmt.Sprintf("unsupported pixel format 0x%x", negotiated), nil)
	}

	width := int(pix.Width)
	height := int(pix.Height)
	stride := int(pix.Bytesperline)
	if stride == 0 {
		stride = bytesPerLine(negotiated, width)
	}

	req := v4l2RequestBuffers{Count: numBuffers, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap}
	if err := ioctl(fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		unix.Close(fd)
		return nil, newErr(ErrCaptureFailed, "VIDIOC_REQBUFS", err)
	}
	if req.Count < 2 {
		unix.Close(fd)
		return nil, newErr(ErrCaptureFailed, "insufficient buffers", nil)
	}

	buffers := make([]mappedBuffer, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap, Index: i}
		if err := ioctl(fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			unmapAll(buffers)
			unix.Close(fd)
			return nil, newErr(ErrCaptureFailed, "VIDIOC_QUERYBUF", err)
		}
		data, err := unix.Mmap(fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unmapAll(buffers)
			unix.Close(fd)
			return nil, newErr(ErrCaptureFailed, "mmap", err)
		}
		buffers[i] = mappedBuffer{data: data, length: buf.Length}
		if err := ioctl(fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			unmapAll(buffers)
			unix.Close(fd)
			return nil, newErr(ErrCaptureFailed, "VIDIOC_QBUF", err)
		}
	}

	bufType := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&bufType)); err != nil {
		unmapAll(buffers)
		unix.Close(fd)
		return nil, newErr(ErrCaptureFailed, "VIDIOC_STREAMON", err)
	}

	cam.width = width
	cam.height = height
	cam.stride = stride
	cam.pixFmt = negotiated
	cam.buffers = buffers
	return cam, nil
}

func bytesPerLine(pixFmt uint32, width int) int {
	switch pixFmt {
	case v4l2PixFmtYUYV:
		return width * 2
	case v4l2PixFmtGREY:
		return width
	case v4l2PixFmtY16, v4l2PixFmtY16Null:
		return width * 2
	default:
		return width
	}
}

func unmapAll(buffers []mappedBuffer) {
	for _, b := range buffers {
		if b.data != nil {
			_ = unix.Munmap(b.data)
		}
	}
}

// Close stops streaming and releases all mmap'd buffers and the file
// descriptor.
func (c *Camera) Close() error {
	bufType := uint32(v4l2BufTypeVideoCapture)
	_ = ioctl(c.fd, vidiocStreamOff, unsafe.Pointer(&bufType))
	unmapAll(c.buffers)
	return unix.Close(c.fd)
}

// toGray dispatches the negotiated pixel format to the right frame
// conversion function.
func (c *Camera) toGray(src []byte) ([]byte, error) {
	switch c.pixFmt {
	case v4l2PixFmtYUYV:
		return frame.YUYVToGray(src, c.width, c.height)
	case v4l2PixFmtGREY:
		return frame.GreyToGray(src, c.width, c.height)
	case v4l2PixFmtY16, v4l2PixFmtY16Null:
		return frame.Y16ToGray(src, c.width, c.height)
	default:
		return nil, newErr(ErrFormatNegotiationFailed, "no converter for negotiated format", nil)
	}
}

// dequeueOne blocks (via short polling sleeps, since the fd is
// non-blocking) until one buffer is available, converts it to
// grayscale, and re-queues it.
func (c *Camera) dequeueOne() (types.Frame, error) {
	misses := 0
	for {
		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap}
		err := ioctl(c.fd, vidiocDQBuf, unsafe.Pointer(&buf))
		if err != nil {
			if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			misses++
			if misses >= dropThreshold {
				return types.Frame{}, newErr(ErrCaptureFailed, "driver stopped producing buffers", err)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		idx := buf.Index
		if int(idx) >= len(c.buffers) {
			_ = ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&buf))
			continue
		}

		data := c.buffers[idx].data
		sz := int(buf.Bytesused)
		if sz <= 0 || sz > len(data) {
			sz = len(data)
		}
		raw := make([]byte, sz)
		copy(raw, data[:sz])

		if err := ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return types.Frame{}, newErr(ErrCaptureFailed, "VIDIOC_QBUF", err)
		}

		gray, err := c.toGray(raw)
		if err != nil {
			return types.Frame{}, err
		}

		c.seq++
		f := types.Frame{
			Data:      gray,
			Width:     c.width,
			Height:    c.height,
			Sequence:  c.seq,
			Timestamp: time.Now(),
			Dark:      frame.IsDark(gray, frame.DefaultDarkFraction),
		}
		return f, nil
	}
}

// CaptureFrame dequeues exactly one frame with its dark flag set and
// no CLAHE applied.
func (c *Camera) CaptureFrame() (types.Frame, error) {
	return c.dequeueOne()
}

// CaptureFrames dequeues up to 3n frames, keeping the first n
// non-dark ones (CLAHE-enhanced), and reports how many dark frames
// were skipped along the way.
func (c *Camera) CaptureFrames(n int) ([]types.Frame, int, error) {
	kept := make([]types.Frame, 0, n)
	darkSkipped := 0
	budget := capturesPerRequestedFrame * n

	for i := 0; i < budget && len(kept) < n; i++ {
		f, err := c.dequeueOne()
		if err != nil {
			return kept, darkSkipped, err
		}
		if f.Dark {
			darkSkipped++
			continue
		}
		f.Data = frame.CLAHE(f.Data, f.Width, f.Height)
		kept = append(kept, f)
	}

	return kept, darkSkipped, nil
}

// Enumerate probes /dev/video0..15 and reports every device that
// advertises VIDEO_CAPTURE.
func Enumerate() ([]DeviceInfo, error) {
	var infos []DeviceInfo
	for i := 0; i < 16; i++ {
		path := "/dev/video" + strconv.Itoa(i)
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
		if err != nil {
			continue
		}

		var caps v4l2Capability
		if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
			unix.Close(fd)
			continue
		}
		unix.Close(fd)

		capsToCheck := caps.Capabilities
		if capsToCheck&v4l2CapDeviceCaps != 0 {
			capsToCheck = caps.DeviceCaps
		}
		if capsToCheck&v4l2CapVideoCapture == 0 {
			continue
		}

		infos = append(infos, DeviceInfo{
			Path:   path,
			Card:   v4l2CString(caps.Card[:]),
			Driver: v4l2CString(caps.Driver[:]),
			Bus:    v4l2CString(caps.BusInfo[:]),
		})
	}
	return infos, nil
}
