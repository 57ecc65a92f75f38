package logging

import "log/slog"

// Field name constants kept consistent across every log call site.
const (
	FieldDeviceKey = "device_key"
	FieldJobID     = "job_id"
	FieldJobKind   = "job_kind"
	FieldPhase     = "phase"
	FieldStage     = "stage"
	FieldComponent = "component"
	FieldCount     = "count"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

func DeviceKey(key string) slog.Attr { return slog.String(FieldDeviceKey, key) }
func JobID(id string) slog.Attr      { return slog.String(FieldJobID, id) }
func JobKind(kind string) slog.Attr  { return slog.String(FieldJobKind, kind) }
func Phase(phase string) slog.Attr   { return slog.String(FieldPhase, phase) }
func Stage(stage string) slog.Attr   { return slog.String(FieldStage, stage) }
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}
func Count(n int) slog.Attr       { return slog.Int(FieldCount, n) }
func Duration(ms int64) slog.Attr { return slog.Int64(FieldDuration, ms) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
