package middleware

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vova616/xxhash"
)

// requestLogger renders one access log line. Query strings can carry callback addresses, so only
// their hash is written.
type requestLogger struct {
	buf *bytes.Buffer
}

func newRequestLogger() *requestLogger {
	return &requestLogger{
		buf: &bytes.Buffer{},
	}
}

func (r *requestLogger) write(format string, args ...interface{}) {
	fmt.Fprintf(r.buf, format, args...)
}

func (r *requestLogger) requestID(id string) *requestLogger {
	if id != "" {
		r.write("[%s] ", id)
	}
	return r
}

func (r *requestLogger) requestType(reqType string) *requestLogger {
	r.write("%s ", reqType)
	return r
}

func (r *requestLogger) request(path string) *requestLogger {
	var segments []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			segments = append(segments, c)
		}
	}
	r.write("/%s", strings.Join(segments, "/"))
	return r
}

func (r *requestLogger) params(query string) *requestLogger {
	if query != "" {
		r.write("?%#x ", xxhash.Checksum32([]byte(query)))
	} else {
		r.buf.WriteString(" ")
	}
	return r
}

func (r *requestLogger) status(status int) *requestLogger {
	r.write("%03d", status)
	return r
}

func (r *requestLogger) size(n int) *requestLogger {
	r.write(" %s", humanize.Bytes(uint64(n)))
	return r
}

func (r *requestLogger) duration(duration time.Duration) *requestLogger {
	r.buf.WriteString(" in ")
	r.write("%.2fms", duration.Seconds()*1000)
	return r
}

func (r *requestLogger) render() string {
	return r.buf.String()
}
