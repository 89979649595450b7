package main

import (
	"bytes"
	"context"

	"github.com/dogmatiq/changefeed"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
)

var _ = Describe("func parseNamespaces()", func() {
	It("parses collection, database and cluster namespaces", func() {
		namespaces, err := parseNamespaces([]string{"db.coll", "db", "*", "db.a.b"})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(namespaces).To(Equal([]changefeed.Namespace{
			changefeed.Collection("db", "coll"),
			changefeed.Database("db"),
			changefeed.Cluster(),
			changefeed.Collection("db", "a.b"),
		}))
	})

	DescribeTable(
		"it returns an error for invalid namespaces",
		func(v string) {
			_, err := parseNamespaces([]string{v})
			Expect(err).To(MatchError(ContainSubstring("invalid namespace")))
		},
		Entry("empty", ""),
		Entry("missing database", ".coll"),
		Entry("missing collection", "db."),
	)

	It("returns an error if no namespaces are given", func() {
		_, err := parseNamespaces(nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("type printer", func() {
	It("writes each event as a line of canonical extended JSON", func() {
		doc, err := bson.Marshal(bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "n", Value: int32(1)},
		})
		Expect(err).ShouldNot(HaveOccurred())

		var buf bytes.Buffer
		p := &printer{Out: &buf}

		err = p.Print(context.Background(), changefeed.ChangeEvent{Raw: doc})
		Expect(err).ShouldNot(HaveOccurred())

		Expect(buf.String()).To(Equal(`{"operationType":"insert","n":{"$numberInt":"1"}}` + "\n"))
	})
})

var _ = Describe("func newRootCommand()", func() {
	It("requires at least one namespace", func() {
		cmd := newRootCommand()
		cmd.SetArgs([]string{})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		Expect(err).To(MatchError(ContainSubstring(`"ns" not set`)))
	})
})
