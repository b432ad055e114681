//go:build linux

package sink

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedParam mirrors the kernel's struct sched_param, which
// golang.org/x/sys/unix does not wrap.
type schedParam struct {
	Priority int32
}

func schedGetPriorityMin(policy int) (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MIN, uintptr(policy), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func schedSetscheduler(pid int, policy int, param *schedParam) error {
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, uintptr(pid), uintptr(policy), uintptr(unsafe.Pointer(param)))
	if errno != 0 {
		return errno
	}
	return nil
}

// setRealtimePriority locks the worker goroutine to its OS thread and
// requests the minimum SCHED_RR round-robin priority, mirroring
// c_alsa_sink.c's pthread_attr_setschedpolicy(SCHED_RR) at thread
// creation. If the process lacks permission to raise its scheduling
// class (EPERM, e.g. no CAP_SYS_NICE), it falls back to the default
// scheduler and logs once rather than failing startup.
func (s *Sink) setRealtimePriority() {
	runtime.LockOSThread()

	prio, err := schedGetPriorityMin(unix.SCHED_RR)
	if err != nil {
		s.log.Printf("sink: could not query SCHED_RR priority range (%v), running with default scheduling", err)
		return
	}

	err = schedSetscheduler(0, unix.SCHED_RR, &schedParam{Priority: int32(prio)})
	if err != nil {
		s.log.Printf("sink: could not set SCHED_RR priority (%v), running with default scheduling", err)
	}
}
