package metrics

import "time"

// NoopRecorder drops every verify and settle event. Services fall back to it
// when no Recorder is configured or metrics are disabled.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
