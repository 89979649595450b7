package gomegax

import (
	"github.com/google/go-cmp/cmp"
	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"
	"go.mongodb.org/mongo-driver/bson"
)

// EqualX is a more powerful and safer alternative to gomega.Equal() for
// comparing whether two values are semantically equal.
//
// If no options are given, raw BSON documents are compared (and diffed) as
// extended JSON.
func EqualX(expected any, options ...cmp.Option) types.GomegaMatcher {
	if len(options) == 0 {
		options = append(options, RawAsJSON)
	}

	return &equalMatcher{
		expected: expected,
		options:  options,
	}
}

// RawAsJSON is a cmp.Option that compares bson.Raw values by their extended
// JSON representation.
var RawAsJSON = cmp.Transformer(
	"bson.Raw",
	func(r bson.Raw) string {
		return r.String()
	},
)

type equalMatcher struct {
	expected any
	options  cmp.Options
}

func (matcher *equalMatcher) Match(actual any) (success bool, err error) {
	return cmp.Equal(actual, matcher.expected, matcher.options), nil
}

func (matcher *equalMatcher) FailureMessage(actual any) (message string) {
	actualString, actualOK := actual.(string)
	expectedString, expectedOK := matcher.expected.(string)
	if actualOK && expectedOK {
		return format.MessageWithDiff(actualString, "to equal", expectedString)
	}

	diff := cmp.Diff(actual, matcher.expected, matcher.options)
	return format.Message(actual, "to equal", matcher.expected) +
		"\n\nDiff:\n" + format.IndentString(diff, 1)
}

func (matcher *equalMatcher) NegatedFailureMessage(actual any) (message string) {
	diff := cmp.Diff(actual, matcher.expected, matcher.options)
	return format.Message(actual, "not to equal", matcher.expected) +
		"\n\nDiff:\n" + format.IndentString(diff, 1)
}
