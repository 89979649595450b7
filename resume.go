package changefeed

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// cursorNotFound is the server error code returned by getMore when the cursor
// no longer exists, for example after a failover.
const cursorNotFound = 43

// legacyResumableCodes is the set of error codes after which a stream may
// resume when connected to a server that does not label resumable errors
// itself.
var legacyResumableCodes = map[int32]struct{}{
	6:     {}, // HostUnreachable
	7:     {}, // HostNotFound
	63:    {}, // StaleShardVersion
	89:    {}, // NetworkTimeout
	91:    {}, // ShutdownInProgress
	133:   {}, // FailedToSatisfyReadPreference
	150:   {}, // StaleEpoch
	189:   {}, // PrimarySteppedDown
	234:   {}, // RetryChangeStream
	262:   {}, // ExceededTimeLimit
	9001:  {}, // SocketException
	10107: {}, // NotWritablePrimary
	11600: {}, // InterruptedAtShutdown
	11602: {}, // InterruptedDueToReplStateChange
	13388: {}, // StaleConfig
	13435: {}, // NotPrimaryNoSecondaryOk
	13436: {}, // NotPrimaryOrSecondary
}

// IsResumable returns true if a change stream can transparently resume after
// err occurred while communicating with the given server.
func IsResumable(err error, server ServerDescription) bool {
	var cmdErr *CommandError
	isCmdErr := errors.As(err, &cmdErr)

	if isCmdErr &&
		(cmdErr.HasErrorLabel(NonResumableLabel) ||
			cmdErr.HasErrorLabel(legacyNonResumableLabel)) {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, ErrMissingResumeToken) || !isCmdErr {
		return false
	}

	if cmdErr.HasErrorLabel(ResumableLabel) ||
		cmdErr.HasErrorLabel(RetryableWriteLabel) {
		return true
	}

	if cmdErr.Code == cursorNotFound {
		return true
	}

	if server.labelsResumableErrors() {
		return false
	}

	_, ok := legacyResumableCodes[cmdErr.Code]
	return ok
}

// resumeDescriptor carries the single resume option used to (re)start a
// stream's cursor. At most one field is set.
type resumeDescriptor struct {
	ResumeAfter          bson.Raw
	StartAfter           bson.Raw
	StartAtOperationTime *primitive.Timestamp
}

// initialDescriptor returns the descriptor for the first aggregate, built
// from the caller's options.
func initialDescriptor(o *watchOptions) resumeDescriptor {
	return resumeDescriptor{
		ResumeAfter:          o.ResumeAfter,
		StartAfter:           o.StartAfter,
		StartAtOperationTime: o.StartAtOperationTime,
	}
}

// resumeDescriptor returns the descriptor used to rebuild the cursor after a
// resumable error.
func (t *tokenTracker) resumeDescriptor(server ServerDescription) resumeDescriptor {
	if t.token != nil {
		if t.startAfter != nil && !t.hasIterated {
			return resumeDescriptor{StartAfter: t.token}
		}

		return resumeDescriptor{ResumeAfter: t.token}
	}

	if t.hasIterated || t.operationTime == nil {
		return resumeDescriptor{}
	}

	if t.operationTimeSupplied || server.requiresOperationTime() {
		return resumeDescriptor{StartAtOperationTime: t.operationTime}
	}

	return resumeDescriptor{}
}

// appendTo appends the descriptor's field, if any, to a $changeStream stage.
func (d resumeDescriptor) appendTo(stage bson.D) bson.D {
	switch {
	case d.ResumeAfter != nil:
		return append(stage, bson.E{Key: "resumeAfter", Value: d.ResumeAfter})
	case d.StartAfter != nil:
		return append(stage, bson.E{Key: "startAfter", Value: d.StartAfter})
	case d.StartAtOperationTime != nil:
		return append(stage, bson.E{Key: "startAtOperationTime", Value: *d.StartAtOperationTime})
	default:
		return stage
	}
}

func (d resumeDescriptor) String() string {
	switch {
	case d.ResumeAfter != nil:
		return fmt.Sprintf("resumeAfter %s", d.ResumeAfter)
	case d.StartAfter != nil:
		return fmt.Sprintf("startAfter %s", d.StartAfter)
	case d.StartAtOperationTime != nil:
		return fmt.Sprintf("startAtOperationTime %d.%d", d.StartAtOperationTime.T, d.StartAtOperationTime.I)
	default:
		return "no resume position"
	}
}
