package idle

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/maximewewer/thermopps/pkg/logger"
)

// Linux's <linux/pps.h> defines these ioctls with the kernel's
// (pointer-sized) _IOC size quirk: the third macro argument is always
// a pointer type, so the encoded size is sizeof(pointer), not
// sizeof(the pointed-to struct). golang.org/x/sys/unix carries no PPS
// ioctl numbers, so they are reproduced here directly against the
// uapi header's macro expansion.
const (
	iocNrbits   = 8
	iocTypebits = 8
	iocSizebits = 14

	iocNrshift   = 0
	iocTypeshift = iocNrshift + iocNrbits
	iocSizeshift = iocTypeshift + iocTypebits
	iocDirshift  = iocSizeshift + iocSizebits

	iocRead  = 2
	iocWrite = 1

	ppsIOCType  = 'p'
	pointerSize = 8 // amd64/arm64; this daemon targets 64-bit realtime hosts only
	ppsGetcapNr = 0xa3
	ppsGetparNr = 0xa1
	ppsSetparNr = 0xa2
	ppsFetchNr  = 0xa4
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirshift | typ<<iocTypeshift | nr<<iocNrshift | size<<iocSizeshift
}

var (
	ppsGetcap = ioc(iocRead, ppsIOCType, ppsGetcapNr, pointerSize)
	ppsGetpar = ioc(iocRead, ppsIOCType, ppsGetparNr, pointerSize)
	ppsSetpar = ioc(iocWrite, ppsIOCType, ppsSetparNr, pointerSize)
	ppsFetch  = ioc(iocRead|iocWrite, ppsIOCType, ppsFetchNr, pointerSize)
)

// PPS capability/mode flags, <linux/pps.h>.
const (
	ppsCaptureAssert = 0x01
	ppsCaptureClear  = 0x02
	ppsCaptureBoth   = ppsCaptureAssert | ppsCaptureClear
	ppsOffsetAssert  = 0x10
	ppsOffsetClear   = 0x20
	ppsCanWait       = 0x100
	ppsAPIVersion1   = 1

	ppsRequiredCaps = ppsCaptureBoth | ppsCanWait
)

// ktime mirrors struct pps_ktime.
type ktime struct {
	Sec   int64
	Nsec  int32
	Flags uint32
}

// kinfo mirrors struct pps_kinfo.
type kinfo struct {
	AssertSequence uint32
	ClearSequence  uint32
	AssertTu       ktime
	ClearTu        ktime
	CurrentMode    int32
	_              [4]byte
}

// fdata mirrors struct pps_fdata, the PPS_FETCH argument.
type fdata struct {
	Info    kinfo
	Timeout ktime
}

// kparams mirrors struct pps_kparams, the PPS_GET/SETPARAMS argument.
type kparams struct {
	APIVersion  int32
	Mode        int32
	AssertOffTu ktime
	ClearOffTu  ktime
}

// Edge is one captured PPS timestamp pair, as read by PPS_FETCH.
type Edge struct {
	AssertSec  int64
	AssertNsec int32
	ClearSec   int64
	ClearNsec  int32
	ClearSeq   uint32
}

// Binding is an open, configured PPS source handle.
type Binding struct {
	fd int
}

// OpenBinding scans /sys/class/pps/pps* for the entry whose path
// attribute matches dev, opens /dev/<entry> and configures
// capture-both with zero assert/clear offsets, per spec.md §4.5.
// Entries that fail capability checks or the setup ioctl sequence are
// skipped; scanning continues to the next entry.
func OpenBinding(dev string) (*Binding, error) {
	entries, err := os.ReadDir("/sys/class/pps")
	if err != nil {
		return nil, fmt.Errorf("readdir /sys/class/pps: %w", err)
	}

	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "pps") {
			continue
		}
		pathAttr := "/sys/class/pps/" + e.Name() + "/path"
		data, err := os.ReadFile(pathAttr)
		if err != nil {
			continue
		}
		if strings.TrimRight(string(data), "\n") != dev {
			continue
		}

		fd, err := unix.Open("/dev/"+e.Name(), unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}

		b := &Binding{fd: fd}
		if err := b.configure(); err != nil {
			unix.Close(fd)
			continue
		}
		return b, nil
	}

	return nil, fmt.Errorf("no pps source matching %q found under /sys/class/pps", dev)
}

// OpenBindingWithRetry retries OpenBinding up to 80 times at 25 ms
// intervals, covering the gpsd startup race of spec.md §4.5, using a
// token-bucket limiter rather than a bare sleep loop.
func OpenBindingWithRetry(ctx context.Context, dev string) (*Binding, error) {
	limiter := rate.NewLimiter(rate.Every(25*time.Millisecond), 1)

	var lastErr error
	for attempt := 0; attempt < 80; attempt++ {
		if attempt > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		b, err := OpenBinding(dev)
		if err == nil {
			return b, nil
		}
		lastErr = err
		logger.SafeDebug("pps", "pps node not yet present, retrying", map[string]interface{}{
			"device":  dev,
			"attempt": attempt,
		})
	}
	return nil, fmt.Errorf("pps device for %s not available after 80 attempts: %w", dev, lastErr)
}

func (b *Binding) configure() error {
	var caps int32
	if err := b.ioctl(ppsGetcap, unsafe.Pointer(&caps)); err != nil {
		return fmt.Errorf("PPS_GETCAP: %w", err)
	}
	if int(caps)&ppsRequiredCaps != ppsRequiredCaps {
		return fmt.Errorf("pps source lacks required capabilities: have %#x, want %#x", caps, ppsRequiredCaps)
	}

	var params kparams
	if err := b.ioctl(ppsGetpar, unsafe.Pointer(&params)); err != nil {
		return fmt.Errorf("PPS_GETPARAMS: %w", err)
	}
	if params.APIVersion != ppsAPIVersion1 {
		return fmt.Errorf("pps api version %d unsupported, want %d", params.APIVersion, ppsAPIVersion1)
	}

	params.Mode |= ppsCaptureBoth
	params.Mode &^= ppsOffsetAssert | ppsOffsetClear
	params.AssertOffTu = ktime{}
	params.ClearOffTu = ktime{}

	if err := b.ioctl(ppsSetpar, unsafe.Pointer(&params)); err != nil {
		return fmt.Errorf("PPS_SETPARAMS: %w", err)
	}
	return nil
}

func (b *Binding) ioctl(cmd uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Fetch blocks for up to timeout waiting for the next PPS edge pair.
//
// hot path: called once per second from the main control loop.
func (b *Binding) Fetch(timeout time.Duration) (Edge, error) {
	var d fdata
	d.Timeout.Sec = int64(timeout / time.Second)
	d.Timeout.Nsec = int32(timeout % time.Second)

	if err := b.ioctl(ppsFetch, unsafe.Pointer(&d)); err != nil {
		return Edge{}, err
	}

	return Edge{
		AssertSec:  d.Info.AssertTu.Sec,
		AssertNsec: d.Info.AssertTu.Nsec,
		ClearSec:   d.Info.ClearTu.Sec,
		ClearNsec:  d.Info.ClearTu.Nsec,
		ClearSeq:   d.Info.ClearSequence,
	}, nil
}

// Close closes the underlying PPS device descriptor.
func (b *Binding) Close() error {
	return unix.Close(b.fd)
}
