//go:build uring && linux

package transport

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"unsafe"
)

func sysFD(tc *net.TCPConn) (int, error) {
	rawConn, err := tc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := rawConn.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}

func newFileFromFD(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}

func bufPtr(buf []byte) unsafe.Pointer {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&buf[0])
}

func readFull(read func([]byte) (int, error), buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func le32(b []byte) uint32      { return binary.LittleEndian.Uint32(b) }
func putLE32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
