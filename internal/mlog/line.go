package mlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

// Line is a single log message about a change stream.
//
// It is rendered as the namespace, followed by two icon columns, followed by
// the non-empty elements of Text separated by SeparatorIcon.
type Line struct {
	Namespace string
	Icons     [2]Icon
	Text      []string
}

func (l Line) String() string {
	w := &strings.Builder{}
	l.mustWriteTo(w)
	return w.String()
}

// WriteTo writes the rendered line to w.
func (l Line) WriteTo(w io.Writer) (n int64, err error) {
	defer must.Recover(&err)
	n = int64(l.mustWriteTo(w))
	return n, nil
}

func (l Line) mustWriteTo(w io.Writer) (n int) {
	n += must.WriteTo(w, NamespaceIcon.WithLabel("%s", l.Namespace))
	n += must.Write(w, space2)

	for _, v := range l.Icons {
		n += must.WriteTo(w, v)
		n += must.Write(w, space1)
	}

	i := 0
	for _, v := range l.Text {
		if v == "" {
			continue
		}

		n += must.Write(w, space1)

		if i > 0 {
			n += must.WriteTo(w, SeparatorIcon)
			n += must.Write(w, space1)
		}

		n += must.WriteString(w, v)
		i++
	}

	return n
}

var (
	space1 = []byte{' '}
	space2 = []byte{' ', ' '}
)
