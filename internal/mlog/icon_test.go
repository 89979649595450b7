package mlog_test

import (
	. "github.com/dogmatiq/changefeed/internal/mlog"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Icon", func() {
	Describe("func String()", func() {
		It("returns the icon string", func() {
			Expect(
				NamespaceIcon.String(),
			).To(Equal("⋲"))
		})
	})

	Describe("func WithLabel()", func() {
		It("returns the icon and label", func() {
			Expect(
				NamespaceIcon.WithLabel("<foo>").String(),
			).To(Equal("⋲ <foo>"))
		})

		It("renders a hyphen in place of an empty label", func() {
			Expect(
				NamespaceIcon.WithLabel("").String(),
			).To(Equal("⋲ -"))
		})
	})
})
