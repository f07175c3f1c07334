package dispatch

import "time"

// Recorder receives dispatch telemetry. internal/metrics implements it
// with Prometheus collectors.
type Recorder interface {
	ObserveDispatch(state string, d time.Duration)
	CacheMiss()
	InstanceCreated()
	InstanceFailed()
	WorkerStarted()
	WorkerStopped()
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string, time.Duration) {}
func (nopRecorder) CacheMiss()                            {}
func (nopRecorder) InstanceCreated()                      {}
func (nopRecorder) InstanceFailed()                       {}
func (nopRecorder) WorkerStarted()                        {}
func (nopRecorder) WorkerStopped()                        {}
