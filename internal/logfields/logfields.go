package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared by every package.
const (
	KeyPackage    = "package"
	KeyCategory   = "category"
	KeyBuildID    = "build_id"
	KeyRunID      = "run_id"
	KeyOutcome    = "outcome"
	KeyStep       = "step"
	KeyCommand    = "command"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

func Package(name string) slog.Attr   { return slog.String(KeyPackage, name) }
func Category(c string) slog.Attr     { return slog.String(KeyCategory, c) }
func BuildID(id uint64) slog.Attr     { return slog.Uint64(KeyBuildID, id) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Step(s string) slog.Attr         { return slog.String(KeyStep, s) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
