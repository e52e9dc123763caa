package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ioctlGetTermios/ioctlSetTermios are the Linux ioctl request numbers for
// reading/writing termios state (spec targets a raw serial device on the
// host Linux system this binary runs on).
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// setBaud configures term's input/output speed in place.
func setBaud(term *unix.Termios, baud uint32) error {
	b, ok := baudConstant(baud)
	if !ok {
		return fmt.Errorf("lbard: unsupported baud rate %d", baud)
	}
	term.Cflag &^= unix.CBAUD
	term.Cflag |= b
	term.Ispeed = baud
	term.Ospeed = baud
	return nil
}

func baudConstant(baud uint32) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	default:
		return 0, false
	}
}

// serialPort is a non-blocking, raw-mode 8-N-1 serial device (spec §5:
// "the serial drain must be non-blocking (O_NDELAY or equivalent)").
// Grounded on the teacher's socketcan raw-fd handling (open by path,
// configure via unix syscalls, never block the main loop).
type serialPort struct {
	file *os.File
	fd   int
}

// openSerial opens path and puts it into raw, non-blocking 8-N-1 mode at
// baud.
func openSerial(path string, baud uint32) (*serialPort, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("lbard: open serial port %s: %w", path, err)
	}

	term, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("lbard: get termios for %s: %w", path, err)
	}

	term.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	term.Oflag &^= unix.OPOST
	term.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	term.Cflag &^= unix.CSIZE | unix.PARENB
	term.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	term.Cc[unix.VMIN] = 0
	term.Cc[unix.VTIME] = 0

	if err := setBaud(term, baud); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("lbard: set baud for %s: %w", path, err)
	}

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, term); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("lbard: set termios for %s: %w", path, err)
	}

	return &serialPort{file: os.NewFile(uintptr(fd), path), fd: fd}, nil
}

// ReadNonBlocking returns whatever bytes are currently available, or
// (nil, nil) if none are — it never blocks (spec §5).
func (s *serialPort) ReadNonBlocking(buf []byte) ([]byte, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// Write sends frame out over the serial link.
func (s *serialPort) Write(frame []byte) error {
	_, err := unix.Write(s.fd, frame)
	return err
}

func (s *serialPort) Close() error {
	return s.file.Close()
}
