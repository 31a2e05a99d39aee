package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the HTTP layer logger. Nop until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

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

// EnvRequestLogLevel sets the default per-request log level.
const EnvRequestLogLevel = "ZIMAGE_HTTP_LOG_LEVEL"

var defaultLogLevel = parseLevel(os.Getenv(EnvRequestLogLevel))

// SetRequestLogLevel overrides the default per-request log level.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

// requestLogLevel honors ?log= (1 means debug) and X-Log-Level.
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

// requestLog carries the per-request level and start time.
type requestLog struct {
	r     *http.Request
	lvl   LogLevel
	start time.Time
}

func newRequestLog(r *http.Request) requestLog {
	return requestLog{r: r, lvl: requestLogLevel(r), start: time.Now()}
}

func (l requestLog) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("path", l.r.URL.Path)
	if rid := middleware.GetReqID(l.r.Context()); rid != "" {
		e = e.Str("request_id", rid)
	}
	return e
}

func (l requestLog) begin(fields map[string]any) {
	if l.lvl < LevelInfo {
		return
	}
	e := l.event(zlog.Info())
	if l.lvl >= LevelDebug {
		e = e.Fields(fields)
	}
	e.Msg("request start")
}

// end logs the outcome. Errors are logged from LevelError, successes from LevelInfo.
func (l requestLog) end(status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		l.event(zlog.Error()).Int("status", status).Dur("dur", time.Since(l.start)).Err(err).Msg("request end")
	case err == nil && l.lvl >= LevelInfo:
		l.event(zlog.Info()).Int("status", status).Dur("dur", time.Since(l.start)).Msg("request end")
	}
}
