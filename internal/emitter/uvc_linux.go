//go:build linux

package emitter

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// UVCIOC_CTRL_QUERY = _IOWR('u', 0x21, struct uvc_xu_control_query),
// sizeof(struct uvc_xu_control_query) == 16 bytes on 64-bit Linux.
const uvcIocCtrlQuery = 0xC0107521

// UVC_SET_CUR: set the current value of a control.
const uvcSetCur = 0x01

// uvcXuControlQuery mirrors struct uvc_xu_control_query from
// <linux/uvcvideo.h>:
//
//	offset 0 u8  unit
//	offset 1 u8  selector
//	offset 2 u8  query          (0x01 = SET_CUR)
//	offset 3 u8  pad
//	offset 4 u16 size           (payload length)
//	offset 6 u16 pad
//	offset 8 ptr data           (payload)
//	total    16 bytes
type uvcXuControlQuery struct {
	Unit     uint8
	Selector uint8
	Query    uint8
	_        uint8
	Size     uint16
	_        uint16
	Data     uintptr
}

func init() {
	if unsafe.Sizeof(uvcXuControlQuery{}) != 16 {
		panic(fmt.Sprintf("uvcXuControlQuery must be 16 bytes to match the kernel ABI, got %d", unsafe.Sizeof(uvcXuControlQuery{})))
	}
}

// sendUVCControl opens a second fd on the device — read+write access
// is required for UVC ioctls, and we don't require the camera session
// to expose its streaming fd for this.
func (e *Emitter) sendUVCControl(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	fd, err := unix.Open(e.devicePath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.devicePath, err)
	}
	defer unix.Close(fd)

	query := uvcXuControlQuery{
		Unit:     e.quirk.Unit,
		Selector: e.quirk.Selector,
		Query:    uvcSetCur,
		Size:     uint16(len(payload)),
		Data:     uintptr(unsafe.Pointer(&payload[0])),
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uvcIocCtrlQuery, uintptr(unsafe.Pointer(&query)))
	if errno != 0 {
		return errno
	}
	return nil
}
