//go:build !linux

package sink

// setRealtimePriority is a no-op outside Linux: there is no portable
// equivalent to SCHED_RR available to the beep-backed fallback
// device, which does not promise realtime behavior to begin with.
func (s *Sink) setRealtimePriority() {}
