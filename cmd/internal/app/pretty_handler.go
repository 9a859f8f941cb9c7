package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler renders records as one key=value line for local development.
// Values of request, topic and session-close attributes are colored when color is on.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=")
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString("lvl=")
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString("msg=")
	b.WriteString(paint(r.Message, ansiBright, h.color))

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString("src=")
			b.WriteString(paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, "")
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	fullKey := key
	switch {
	case parent != "":
		fullKey = parent + "." + key
	case len(h.groups) > 0:
		fullKey = strings.Join(h.groups, ".") + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, fullKey)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(remapPrettyKey(fullKey))
	b.WriteByte('=')
	b.WriteString(h.prettyValue(fullKey, a.Value))
}

// attrPainters colors the values of keys pulse logs on hot paths. Keys not
// listed are printed plain.
var attrPainters = map[string]func(v slog.Value) (string, string){
	"method": func(v slog.Value) (string, string) {
		m := strings.ToUpper(strings.TrimSpace(v.String()))
		return m, methodColors[m]
	},
	"path":  cyanValue,
	"topic": cyanValue,
	"status": func(v slog.Value) (string, string) {
		n, ok := valueToInt64(v)
		if !ok {
			return valueToString(v), ""
		}
		return strconv.FormatInt(n, 10), classColors[statusClass(int(n))]
	},
	"status_class": func(v slog.Value) (string, string) {
		c := strings.TrimSpace(v.String())
		return c, classColors[c]
	},
	"result": func(v slog.Value) (string, string) {
		r := strings.ToLower(strings.TrimSpace(v.String()))
		return r, resultColors[r]
	},
	"duration_ms": func(v slog.Value) (string, string) {
		ms, ok := valueToInt64(v)
		if !ok {
			return valueToString(v), ""
		}
		return strconv.FormatInt(ms, 10) + "ms", durationColor(ms)
	},
	"reason": func(v slog.Value) (string, string) {
		r := v.String()
		return r, closeReasonColor(r)
	},
	"session_id": dimValue,
	"request_id": dimValue,
}

var (
	methodColors = map[string]string{
		"GET":    ansiGreen,
		"POST":   ansiYellow,
		"DELETE": ansiRed,
	}
	classColors = map[string]string{
		"2xx": ansiGreen,
		"3xx": ansiCyan,
		"4xx": ansiYellow,
		"5xx": ansiRed,
	}
	resultColors = map[string]string{
		"success":      ansiGreen,
		"redirect":     ansiCyan,
		"client_error": ansiYellow,
		"server_error": ansiRed,
	}
)

// prettyKeys shortens the request-log keys on screen.
var prettyKeys = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	paintFn, ok := attrPainters[key]
	if !ok {
		return quoteIfNeeded(valueToString(v))
	}
	s, code := paintFn(v)
	return paint(quoteIfNeeded(s), code, h.color)
}

func remapPrettyKey(k string) string {
	if short, ok := prettyKeys[k]; ok {
		return short
	}
	return k
}

func cyanValue(v slog.Value) (string, string) { return strings.TrimSpace(v.String()), ansiCyan }

func dimValue(v slog.Value) (string, string) { return v.String(), ansiDim }

func durationColor(ms int64) string {
	switch {
	case ms >= 1000:
		return ansiRed
	case ms >= 250:
		return ansiYellow
	default:
		return ansiDim
	}
}

// closeReasonColor marks clean session endings green and transport failures red.
func closeReasonColor(reason string) string {
	switch {
	case reason == "peer closed" || reason == "context done" || reason == "context_done":
		return ansiGreen
	case strings.HasSuffix(reason, "failed") || reason == "conn closed":
		return ansiRed
	default:
		return ansiYellow
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var levelTags = []struct {
	min  slog.Level
	tag  string
	code string
}{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
}

func levelTag(level slog.Level, color bool) string {
	for _, lt := range levelTags {
		if level >= lt.min {
			return paint(lt.tag, lt.code, color)
		}
	}
	return paint("[DEBUG]", ansiMagenta, color)
}

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
