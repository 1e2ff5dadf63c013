package opener

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TTYOpener opens a local serial device and puts it in raw mode at the
// requested baud rate. The fd is opened non-blocking and without becoming
// the daemon's controlling terminal.
type TTYOpener struct{}

func (TTYOpener) Open(dev string, baud int) (int, error) {
	flag, err := baudFlag(baud)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return -1, fmt.Errorf("open %q: %w", dev, err)
	}
	if err := setRawMode(fd, flag); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("open %q: %w", dev, err)
	}
	return fd, nil
}

// setRawMode configures the tty as a transparent pipe: no input or output
// translation, no echo, no line buffering, no signal generation, 8-bit
// characters. VMIN=1/VTIME=0 so reads return as soon as a byte arrives.
func setRawMode(fd int, baud uint32) error {
	termios, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		// Not a tty (e.g. /dev/null in tests); pass the fd through
		// untouched.
		if err == unix.ENOTTY {
			return nil
		}
		return err
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	setSpeed(termios, baud)

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, ioctlWriteTermios, termios)
}

// baudFlag maps a numeric rate to its termios constant. Rates outside the
// standard set are rejected rather than silently rounded.
func baudFlag(baud int) (uint32, error) {
	if flag, ok := baudRates[baud]; ok {
		return flag, nil
	}
	return 0, fmt.Errorf("unsupported baud rate %d", baud)
}
