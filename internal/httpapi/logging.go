package httpapi

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from CLIPD_LOG_LEVEL.
var defaultLogLevel = parseLevel(os.Getenv("CLIPD_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level used when a request carries none.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logStart records the beginning of an inference request.
func logStart(r *http.Request, lvl LogLevel, fields map[string]any) {
	if lvl < LevelDebug {
		return
	}
	if zlog != nil {
		z := zlog.Debug().Str("path", r.URL.Path).Fields(fields)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("infer start")
		return
	}
	log.Printf("infer start path=%s %v", r.URL.Path, fields)
}

// logEnd records the outcome. Failures log at LevelError and above, successes at LevelInfo.
func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl < LevelError || (err == nil && lvl < LevelInfo) {
		return
	}
	dur := time.Since(start)
	if zlog != nil {
		ev := zlog.Info()
		if err != nil {
			ev = zlog.Warn().Err(err)
			if status >= 500 {
				ev = zlog.Error().Err(err)
			}
		}
		ev = ev.Str("path", r.URL.Path).Int("status", status).Dur("dur", dur)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Msg("infer end")
		return
	}
	if err != nil {
		log.Printf("infer end path=%s status=%d dur=%s err=%v", r.URL.Path, status, dur, err)
		return
	}
	log.Printf("infer end path=%s status=%d dur=%s", r.URL.Path, status, dur)
}
