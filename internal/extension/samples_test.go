// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/shelfhost/shelf/internal/environment"
	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/lua"
	"github.com/shelfhost/shelf/internal/shell"
)

const samplesDir = "../../extensions"

// samples copies the sample extensions into a temporary directory, leaving
// out the named ones.
func samples(without ...string) string {
	dir := GinkgoT().TempDir()
	Expect(os.CopyFS(dir, os.DirFS(samplesDir))).To(Succeed())
	for _, id := range without {
		Expect(os.RemoveAll(filepath.Join(dir, id))).To(Succeed())
	}
	return dir
}

type loaded struct {
	host   *extension.Host
	shell  *shell.Shell
	report *extension.Report
}

func load(ctx context.Context, dir string) *loaded {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base, err := environment.New(environment.Options{Version: "test"})
	Expect(err).NotTo(HaveOccurred())

	ui := shell.New(logger)
	host := extension.NewHost(
		extension.WithRuntime(extension.KindLua, lua.NewRuntime(lua.WithLogger(logger))),
		extension.WithBase(base),
		extension.WithUI(ui),
		extension.WithLogger(logger),
	)
	ui.Bind(host)
	DeferCleanup(func() {
		Expect(host.Close(context.Background())).To(Succeed())
	})

	report, err := host.Load(ctx, extension.DirSource{Dir: dir})
	Expect(err).NotTo(HaveOccurred())
	return &loaded{host: host, shell: ui, report: report}
}

func (l *loaded) invoke(ctx context.Context, target, op string, args ...any) any {
	result, ok, err := l.host.Linker().Invoke(ctx, target, op, args...)
	Expect(err).NotTo(HaveOccurred())
	Expect(ok).To(BeTrue(), "%s should be enabled", target)
	return result
}

var _ = Describe("Sample extensions", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("with every sample installed", func() {
		var l *loaded

		BeforeEach(func() {
			l = load(ctx, samples())
		})

		It("activates in dependency order", func() {
			Expect(l.report.Enabled).To(Equal([]string{"book-management", "reports", "users-management", "loan-management"}))
			Expect(l.report.Rejected).To(BeEmpty())
			Expect(l.report.Failed).To(BeEmpty())
			Expect(l.report.PostActivateErrors).To(BeEmpty())
		})

		It("summarises the features", func() {
			Expect(l.shell.Summary()).To(Equal("4 features available: book-management, reports, users-management, loan-management"))
			Expect(l.shell.Tabs()).To(HaveLen(4))
			Expect(l.shell.Stylesheets()).To(HaveLen(4))
		})

		It("lets loans take over book availability", func() {
			Expect(l.invoke(ctx, "book-management", "available", "9780441013593")).To(Equal(1))
			Expect(l.invoke(ctx, "book-management", "available", "9780345391803")).To(Equal(1))
			Expect(l.invoke(ctx, "book-management", "available", "unknown")).To(Equal(0))
		})

		It("registers and runs the loan report", func() {
			Expect(l.invoke(ctx, "reports", "titles")).To(Equal([]any{"Loaned books"}))
			Expect(l.invoke(ctx, "reports", "run", "Loaned books")).To(Equal("Dune: 2\nFoundation: 1"))
		})

		It("resolves borrowers across extensions", func() {
			Expect(l.invoke(ctx, "loan-management", "borrowers", "9780441013593")).
				To(Equal([]any{"Ada Lovelace", "Alan Turing"}))
		})

		It("resolves icons through each extension's own files and the base", func() {
			icon, ok := l.shell.Icon("loan-management", "icons/loans.svg")
			Expect(ok).To(BeTrue())
			Expect(string(icon)).To(ContainSubstring("<title>loans</title>"))

			_, ok = l.shell.Icon("loan-management", "icons/books.svg")
			Expect(ok).To(BeTrue(), "dependencies' files are visible to dependents")

			_, ok = l.shell.Icon("book-management", "icons/loans.svg")
			Expect(ok).To(BeFalse(), "dependents' files are not visible to dependencies")

			_, ok = l.shell.Icon("users-management", environment.DefaultIcon)
			Expect(ok).To(BeTrue())
		})

		It("reports a missing operation as an integration failure", func() {
			_, ok, err := l.host.Linker().Invoke(ctx, "reports", "delete_everything")
			Expect(ok).To(BeTrue())
			Expect(extension.IsCode(err, extension.CodeIntegrationFailed)).To(BeTrue())
		})
	})

	Describe("without the reports extension", func() {
		It("still enables loans and treats reports as not available", func() {
			l := load(ctx, samples("reports"))

			Expect(l.report.Enabled).To(Equal([]string{"book-management", "users-management", "loan-management"}))
			Expect(l.report.PostActivateErrors).To(BeEmpty())

			_, ok, err := l.host.Linker().Invoke(ctx, "reports", "titles")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("without the users extension", func() {
		It("rejects loans and leaves books with its own availability", func() {
			l := load(ctx, samples("users-management"))

			Expect(l.report.Enabled).To(Equal([]string{"book-management", "reports"}))
			Expect(l.report.Rejected).To(HaveLen(1))
			Expect(l.report.Rejected[0].ID()).To(Equal("loan-management"))
			Expect(l.report.Rejected[0].Reason()).To(Equal("missing dependency: users-management"))
			Expect(l.host.State("loan-management")).To(Equal(extension.StateRejected))

			Expect(l.invoke(ctx, "book-management", "available", "9780441013593")).To(Equal(3))
		})
	})

	Describe("with an empty extensions directory", func() {
		It("enables nothing and says so", func() {
			l := load(ctx, GinkgoT().TempDir())

			Expect(l.report.Enabled).To(BeEmpty())
			Expect(l.shell.Summary()).To(Equal(shell.NoFeatures))
		})
	})
})
