package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// ListenFdsEnvKey holds the number of sockets passed by a socket-activating
	// supervisor. The sockets start at listenFdsStart.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the sockets are meant for.
	ListenPidEnvKey = "LISTEN_PID"

	listenFdsStart = 3
)

// SetCloexec sets or clears FD_CLOEXEC on fd.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	if enabled {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD failed for fd %d: %w", fd, err)
	}
	return nil
}

func isCloexecSet(fd uintptr) (bool, error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return false, fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// reuseAddrControl enables SO_REUSEADDR so a restarted server can bind while
// old connections sit in TIME_WAIT.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR on %s %s: %w", network, address, sockErr)
	}
	return nil
}

// CreateListener opens a TCP listener on address with SO_REUSEADDR set.
func CreateListener(ctx context.Context, network, address string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported", network)
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	l, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return l, nil
}

// NewListenerFromFD wraps an inherited listening socket. The descriptor is
// marked close-on-exec and ownership passes to the returned listener.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	if err := SetCloexec(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set FD_CLOEXEC on inherited fd %d: %w", fd, err)
	}
	file := os.NewFile(fd, "listener-fd-"+strconv.Itoa(int(fd)))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for fd %d", fd)
	}
	// net.FileListener dups the descriptor, so the original is always closed here.
	defer file.Close()
	l, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for fd %d: %w", fd, err)
	}
	return l, nil
}

// ParseInheritedListenerFDs returns the descriptors announced through
// LISTEN_FDS and LISTEN_PID. It returns nil when none were passed or when
// LISTEN_PID names another process.
func ParseInheritedListenerFDs(getenv func(string) string, pid int) ([]uintptr, error) {
	countStr := getenv(ListenFdsEnvKey)
	if countStr == "" {
		return nil, nil
	}
	if pidStr := getenv(ListenPidEnvKey); pidStr != "" {
		wantPid, err := strconv.Atoi(pidStr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", ListenPidEnvKey, pidStr, err)
		}
		if wantPid != pid {
			return nil, nil
		}
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", ListenFdsEnvKey, countStr, err)
	}
	if count < 0 {
		return nil, fmt.Errorf("invalid negative %s: %d", ListenFdsEnvKey, count)
	}
	fds := make([]uintptr, 0, count)
	for i := 0; i < count; i++ {
		fds = append(fds, uintptr(listenFdsStart+i))
	}
	return fds, nil
}

// InheritedListeners converts the sockets passed by a supervisor into
// listeners. It returns nil, nil when there are none.
func InheritedListeners() ([]net.Listener, error) {
	fds, err := ParseInheritedListenerFDs(os.Getenv, os.Getpid())
	if err != nil || len(fds) == 0 {
		return nil, err
	}
	listeners := make([]net.Listener, 0, len(fds))
	for _, fd := range fds {
		l, err := NewListenerFromFD(fd)
		if err != nil {
			for _, prev := range listeners {
				prev.Close()
			}
			return nil, err
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// IsAddrInUse reports whether err is an "address already in use" failure.
func IsAddrInUse(err error) bool {
	return err != nil && errors.Is(err, unix.EADDRINUSE)
}
