package mlog

import (
	"fmt"
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

// LogStarted logs a message indicating that a change stream's cursor has been
// opened, either initially or after a resume.
//
// position describes the resume option that the cursor was opened with.
func LogStarted(log logging.Logger, ns, position string) {
	logging.LogString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{SystemIcon},
			Text:      []string{"cursor opened", position},
		}.String(),
	)
}

// LogChange logs a debug message indicating that a change event has been
// delivered to the consumer.
func LogChange(log logging.Logger, ns, op, key string) {
	if !logging.IsDebug(log) {
		return
	}

	logging.DebugString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{ChangeIcon},
			Text:      []string{op, key},
		}.String(),
	)
}

// LogCommand logs a debug message indicating that a command is being sent to
// the server on behalf of a change stream.
func LogCommand(log logging.Logger, ns, name, detail string) {
	if !logging.IsDebug(log) {
		return
	}

	logging.DebugString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{CommandIcon},
			Text:      []string{name, detail},
		}.String(),
	)
}

// LogResuming logs a message indicating that a change stream is being resumed
// after a resumable error.
func LogResuming(log logging.Logger, ns string, cause error, position string) {
	logging.LogString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{ResumeIcon, ErrorIcon},
			Text:      []string{cause.Error(), "resuming with " + position},
		}.String(),
	)
}

// LogClosed logs a message indicating that a change stream has been closed.
//
// cause is the error that caused the stream to close, if any.
func LogClosed(log logging.Logger, ns string, cause error) {
	text := "closed"
	if cause != nil {
		text = cause.Error()
	}

	logging.LogString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{CloseIcon, errorIcon(cause)},
			Text:      []string{text},
		}.String(),
	)
}

// LogRestart logs a message indicating that a consumer is waiting before
// opening a new change stream after a failure.
func LogRestart(log logging.Logger, ns string, cause error, delay time.Duration) {
	logging.LogString(
		log,
		Line{
			Namespace: ns,
			Icons:     [2]Icon{ResumeIcon, ErrorIcon},
			Text:      []string{cause.Error(), fmt.Sprintf("next attempt in %s", delay)},
		}.String(),
	)
}

func errorIcon(err error) Icon {
	if err == nil {
		return ""
	}

	return ErrorIcon
}
