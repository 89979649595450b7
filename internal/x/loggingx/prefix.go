package loggingx

import (
	"fmt"
	"strings"

	"github.com/dogmatiq/dodeca/logging"
)

// WithPrefix returns a logger that adds a prefix to log messages.
//
// The prefix is built from f and v once, when the logger is created. Any
// percent signs it contains are escaped before it is combined with the format
// strings passed to Log() and Debug().
func WithPrefix(target logging.Logger, f string, v ...any) logging.Logger {
	prefix := fmt.Sprintf(f, v...)

	return &prefixed{
		target: target,
		prefix: prefix,
		format: strings.ReplaceAll(prefix, "%", "%%"),
	}
}

type prefixed struct {
	target logging.Logger
	prefix string
	format string
}

func (p *prefixed) Log(f string, v ...any) {
	p.target.Log(p.format+f, v...)
}

func (p *prefixed) LogString(s string) {
	p.target.LogString(p.prefix + s)
}

func (p *prefixed) Debug(f string, v ...any) {
	p.target.Debug(p.format+f, v...)
}

func (p *prefixed) DebugString(s string) {
	p.target.DebugString(p.prefix + s)
}

func (p *prefixed) IsDebug() bool {
	return p.target.IsDebug()
}
