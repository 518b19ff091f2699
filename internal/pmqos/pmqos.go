// Package pmqos wraps the Linux /dev/cpu_dma_latency PM QoS interface.
//
// While a writer holds the device open, the kernel avoids entering any
// CPU idle state whose exit latency exceeds the last value written, in
// microseconds. Writing -1 releases the constraint. Closing the
// descriptor also releases it. Both heatppm (always) and unidled (in
// "all" mode) use this same handle shape.
package pmqos

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const devPath = "/dev/cpu_dma_latency"

// Handle is a write-only, non-blocking handle to the PM QoS latency
// control file.
type Handle struct {
	fd int
}

// Open opens /dev/cpu_dma_latency for writing.
func Open() (*Handle, error) {
	fd, err := unix.Open(devPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}
	return &Handle{fd: fd}, nil
}

// Write writes us to the device as a 4-byte value: a non-negative us
// installs a latency hint of that many microseconds, and -1 (as
// written by Release) clears it.
func (h *Handle) Write(us int32) error {
	buf := [4]byte{
		byte(us), byte(us >> 8), byte(us >> 16), byte(us >> 24),
	}
	n, err := unix.Write(h.fd, buf[:])
	if err != nil {
		return fmt.Errorf("write %s: %w", devPath, err)
	}
	if n != len(buf) {
		return fmt.Errorf("write %s: short write of %d bytes", devPath, n)
	}
	return nil
}

// Release clears any previously installed latency hint by writing -1.
func (h *Handle) Release() error {
	return h.Write(-1)
}

// Fd returns the underlying file descriptor, for callers that need to
// pass it directly to x/sys/unix calls (e.g. write(2) in a hot loop
// without the fmt.Errorf wrapping of Write).
func (h *Handle) Fd() int {
	return h.fd
}

// Close releases the latency hint and closes the descriptor.
func (h *Handle) Close() error {
	_ = h.Release()
	return unix.Close(h.fd)
}
