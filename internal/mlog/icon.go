package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
)

const (
	// NamespaceIcon is the icon shown directly before the namespace that a
	// change stream watches. It is the mathematical "member of set" symbol,
	// indicating that the logged events belong to the displayed namespace.
	NamespaceIcon Icon = "⋲"

	// ChangeIcon is the icon shown to indicate that a change event has been
	// delivered. It is a downward pointing arrow, as such "inbound" events
	// could be considered as being "downloaded" from the server.
	ChangeIcon Icon = "▼"

	// CommandIcon is the icon shown to indicate that a command is being sent
	// to the server. It is an upward pointing arrow, as such "outbound"
	// commands could be considered as being "uploaded" to the server.
	CommandIcon Icon = "▲"

	// ResumeIcon is the icon shown when a change stream is being resumed or a
	// consumer is being restarted. It is an open-circle with an arrow,
	// indicating that the stream has "come around again".
	ResumeIcon Icon = "↻"

	// ErrorIcon is the icon shown when logging information about an error.
	// It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// CloseIcon is the icon shown when a change stream is closed. It is a
	// filled square, reminiscent of the "stop" button on a media player.
	CloseIcon Icon = "■"

	// SystemIcon is an icon shown when a log message relates to the internal
	// lifecycle of a change stream. It is a sprocket, representing the inner
	// workings of the machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is an icon used to separate strings of unrelated text inside a
	// log message. It is a large bullet, intended to have a large visual impact.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes a string representation of the icon to w.
// If i is the zero-value, a single space is rendered.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := i.String()
	if i == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel return an IconWithLabel containing this icon and the given label.
func (i Icon) WithLabel(f string, v ...any) IconWithLabel {
	return IconWithLabel{
		i,
		formatLabel(fmt.Sprintf(f, v...)),
	}
}

// IconWithLabel is a container for an icon and its associated text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes a string representation of the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	n := must.WriteTo(w, i.Icon)
	n += must.Write(w, space1)
	n += must.WriteString(w, i.Label)

	return int64(n), err
}

// formatLabel formats a label for display.
func formatLabel(label string) string {
	if label == "" {
		return "-"
	}

	return label
}
