// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package lua_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shelfhost/shelf/internal/extension"
	"github.com/shelfhost/shelf/internal/extension/capability"
	extlua "github.com/shelfhost/shelf/internal/extension/lua"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingUI struct {
	mu     sync.Mutex
	tabs   []extension.Tab
	sheets []extension.Stylesheet
}

func (u *recordingUI) CreateTab(_ context.Context, tab extension.Tab) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tabs = append(u.tabs, tab)
	return nil
}

func (u *recordingUI) LoadStylesheet(_ context.Context, sheet extension.Stylesheet) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sheets = append(u.sheets, sheet)
	return nil
}

type fixture struct {
	id       string
	files    fstest.MapFS
	caps     []string
	requires []string
	soft     []string
}

func (f fixture) descriptor(t *testing.T) *extension.Descriptor {
	t.Helper()
	d := &extension.Descriptor{
		ID:           f.id,
		Version:      semver.MustParse("1.0.0"),
		Kind:         extension.KindLua,
		Soft:         f.soft,
		Capabilities: f.caps,
		Location:     extension.NewFSLocation(f.files, f.id),
		Entry:        "main.lua",
	}
	for _, raw := range f.requires {
		dep, err := extension.ParseDependency(raw)
		require.NoError(t, err)
		d.Requires = append(d.Requires, dep)
	}
	return d
}

func entry(src string) fstest.MapFS {
	return fstest.MapFS{"main.lua": &fstest.MapFile{Data: []byte(src)}}
}

type harness struct {
	host    *extension.Host
	runtime *extlua.Runtime
	ui      *recordingUI
}

func newHarness(t *testing.T, opts ...extlua.Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := extlua.NewRuntime(append([]extlua.Option{extlua.WithLogger(logger)}, opts...)...)
	ui := &recordingUI{}
	base := extension.NewFSLocation(fstest.MapFS{
		"shell/strings.lua": &fstest.MapFile{Data: []byte(`
			local M = {}
			function M.shout(s) return string.upper(s) .. "!" end
			return M
		`)},
		"icons/default.svg": &fstest.MapFile{Data: []byte("<svg/>")},
	}, "base")

	h := extension.NewHost(
		extension.WithRuntime(extension.KindLua, rt),
		extension.WithUI(ui),
		extension.WithBase(base),
		extension.WithLogger(logger),
	)
	t.Cleanup(func() {
		assert.NoError(t, h.Close(context.Background()))
	})
	return &harness{host: h, runtime: rt, ui: ui}
}

func (h *harness) activate(t *testing.T, fixtures ...fixture) *extension.Report {
	t.Helper()
	descs := make([]*extension.Descriptor, len(fixtures))
	for i, f := range fixtures {
		descs[i] = f.descriptor(t)
	}
	report, err := h.host.ActivateAll(context.Background(), descs)
	require.NoError(t, err)
	return report
}

func TestRuntime_RunsLifecycleHooks(t *testing.T) {
	h := newHarness(t)
	files := entry(`
		activated = false
		function activate()
			activated = true
			shell.create_tab("Books", "icons/books.svg", "book-list")
		end
		function post_activate()
			shell.load_stylesheet("css/books.css")
		end
	`)
	files["icons/books.svg"] = &fstest.MapFile{Data: []byte("<svg id='books'/>")}
	files["css/books.css"] = &fstest.MapFile{Data: []byte(".books{}")}

	report := h.activate(t, fixture{id: "book-management", files: files, caps: []string{"ui.*"}})

	assert.Equal(t, []string{"book-management"}, report.Enabled)
	assert.Empty(t, report.PostActivateErrors)
	require.Len(t, h.ui.tabs, 1)
	assert.Equal(t, "Books", h.ui.tabs[0].Title)
	assert.Equal(t, "book-list", h.ui.tabs[0].View)
	assert.Equal(t, []byte("<svg id='books'/>"), h.ui.tabs[0].Icon)
	require.Len(t, h.ui.sheets, 1)
	assert.Equal(t, []byte(".books{}"), h.ui.sheets[0].CSS)
}

func TestRuntime_ActivationFailures(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"returns false", `function activate() return false, "no database" end`, "no database"},
		{"raises", `function activate() error("boom") end`, "boom"},
		{"no activate hook", `x = 1`, "does not define activate()"},
		{"syntax error", `function activate(`, "syntax"},
		{"entry chunk raises", `error("top level")`, "top level"},
		{"shell used before activate", `shell.create_tab("x")`, "not available before activate()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			report := h.activate(t, fixture{id: "users-management", files: entry(tt.src), caps: []string{"**"}})

			assert.Empty(t, report.Enabled)
			require.Len(t, report.Failed, 1)
			assert.True(t, extension.IsCode(report.Failed[0].Err, extension.CodeActivationFailed))
			assert.Contains(t, report.Failed[0].Err.Error(), tt.want)
			assert.Equal(t, extension.StateFailedActivation, h.host.State("users-management"))
		})
	}
}

func TestRuntime_MissingEntryFailsActivation(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t, fixture{id: "reports", files: fstest.MapFS{}})

	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Err.Error(), `entry "main.lua" not found`)
}

func TestRuntime_PostActivateErrorDoesNotDisable(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t, fixture{id: "reports", files: entry(`
		function activate() end
		function post_activate() error("late") end
	`)})

	assert.Equal(t, []string{"reports"}, report.Enabled)
	require.Len(t, report.PostActivateErrors, 1)
	assert.True(t, h.host.IsEnabled("reports"))
}

func TestRuntime_CapabilityDenied(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t, fixture{id: "reports", files: entry(`
		function activate() shell.create_tab("Reports") end
	`)})

	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Err.Error(), "capability denied: reports requires ui.tab")
	assert.Empty(t, h.ui.tabs)
}

func TestRuntime_ConfiguredGrantsExtendManifest(t *testing.T) {
	enforcer := capability.NewEnforcer()
	h := newHarness(t,
		extlua.WithEnforcer(enforcer),
		extlua.WithGrants(map[string][]string{"Reports": {"ui.tab"}}),
	)
	report := h.activate(t, fixture{id: "reports", caps: []string{"ui.stylesheet"}, files: entry(`
		function activate() shell.create_tab("Reports") end
	`)})

	assert.Equal(t, []string{"reports"}, report.Enabled)
	assert.Same(t, enforcer, h.runtime.Enforcer())
	assert.Equal(t, []string{"ui.stylesheet", "ui.tab"}, enforcer.Grants("reports"))
}

func TestRuntime_RequireFollowsScopeChain(t *testing.T) {
	h := newHarness(t)
	books := entry(`
		function activate() end
	`)
	books["books/model.lua"] = &fstest.MapFile{Data: []byte(`return { kind = "book" }`)}
	books["shared.lua"] = &fstest.MapFile{Data: []byte(`return "from books"`)}

	loans := entry(`
		local model = require("books.model")
		local strings = require("shell.strings")
		local shared = require("shared")
		local again = require("books.model")
		function activate()
			result = model.kind .. "|" .. strings.shout("due") .. "|" .. shared .. "|" .. tostring(again == model)
		end
		exports = {}
		function exports.result() return result end
	`)
	loans["shared.lua"] = &fstest.MapFile{Data: []byte(`return "from loans"`)}

	report := h.activate(t,
		fixture{id: "loan-management", files: loans, requires: []string{"book-management"}, caps: []string{"link.*"}},
		fixture{id: "book-management", files: books},
	)
	require.Equal(t, []string{"book-management", "loan-management"}, report.Enabled)

	got, ok, err := h.host.Linker().Invoke(context.Background(), "loan-management", "result")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "book|DUE!|from loans|true", got)
}

func TestRuntime_RequireUnknownModuleFails(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t, fixture{id: "reports", files: entry(`
		local x = require("users.model")
		function activate() end
	`)})

	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Err.Error(), `module "users.model" not found`)
}

func TestRuntime_InvokeSoftDependency(t *testing.T) {
	loans := fixture{
		id:   "loan-management",
		soft: []string{"reports"},
		caps: []string{"link.*"},
		files: entry(`
			function activate()
				local value, ok = shell.invoke("reports", "register", "Loans")
				reports_present = ok
				registered = value
			end
			exports = {}
			function exports.state() return { present = reports_present, registered = registered } end
		`),
	}
	reports := fixture{
		id: "reports",
		files: entry(`
			registry = {}
			function activate() end
			exports = {}
			function exports.register(name)
				table.insert(registry, name)
				return #registry
			end
		`),
	}

	t.Run("absent", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t, loans)

		got, ok, err := h.host.Linker().Invoke(context.Background(), "loan-management", "state")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"present": false}, got)
	})

	t.Run("present", func(t *testing.T) {
		h := newHarness(t)
		h.activate(t, reports, loans)

		got, ok, err := h.host.Linker().Invoke(context.Background(), "loan-management", "state")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"present": true, "registered": 1}, got)
	})
}

func TestRuntime_InvokeRequiresLinkCapability(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t,
		fixture{id: "reports", files: entry(`function activate() end exports = { ping = function() return "pong" end }`)},
		fixture{id: "loan-management", soft: []string{"reports"}, files: entry(`
			function activate() shell.invoke("reports", "ping") end
		`)},
	)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "loan-management", report.Failed[0].ID)
	assert.Contains(t, report.Failed[0].Err.Error(), "requires link.reports")
}

func TestRuntime_IntegrationFailureRaisesInCaller(t *testing.T) {
	h := newHarness(t)
	report := h.activate(t,
		fixture{id: "reports", files: entry(`function activate() end exports = {}`)},
		fixture{id: "loan-management", soft: []string{"reports"}, caps: []string{"link.*"}, files: entry(`
			function activate() shell.invoke("reports", "missing") end
		`)},
	)

	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Err.Error(), `does not export operation "missing"`)
}

// The provider swap: loans installs itself as the availability provider of
// books, and books calls back into loans, which calls back into books.
func TestRuntime_ReentrantCallbacks(t *testing.T) {
	h := newHarness(t)
	books := fixture{
		id:   "book-management",
		caps: []string{"link.*"},
		files: entry(`
			local provider = nil
			function activate() end
			exports = {}
			function exports.set_availability_provider(id, op)
				provider = { id = id, op = op }
				return true
			end
			function exports.stock(isbn) return 5 end
			function exports.available(isbn)
				if provider == nil then return exports.stock(isbn) end
				local n, ok = shell.invoke(provider.id, provider.op, isbn)
				if not ok then return exports.stock(isbn) end
				return n
			end
		`),
	}
	loans := fixture{
		id:       "loan-management",
		requires: []string{"book-management"},
		caps:     []string{"link.book-management"},
		files: entry(`
			local loaned = { ["978-0441013593"] = 2 }
			function activate()
				local _, ok = shell.invoke("book-management", "set_availability_provider", "loan-management", "available_copies")
				return ok
			end
			exports = {}
			function exports.available_copies(isbn)
				local stock = shell.invoke("book-management", "stock", isbn)
				return stock - (loaned[isbn] or 0)
			end
		`),
	}

	report := h.activate(t, books, loans)
	require.Equal(t, []string{"book-management", "loan-management"}, report.Enabled)

	got, ok, err := h.host.Linker().Invoke(context.Background(), "book-management", "available", "978-0441013593")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestRuntime_ConcurrentInvocationsAreSerialised(t *testing.T) {
	h := newHarness(t)
	h.activate(t, fixture{id: "reports", files: entry(`
		count = 0
		function activate() end
		exports = {}
		function exports.bump()
			local c = count
			for i = 1, 100 do end
			count = c + 1
			return count
		end
		function exports.count() return count end
	`)})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.host.Linker().Invoke(context.Background(), "reports", "bump")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := h.host.Linker().Invoke(context.Background(), "reports", "count")
	require.NoError(t, err)
	assert.Equal(t, 20, got)
}

func TestRuntime_ExportsAddedLaterBecomeOperations(t *testing.T) {
	h := newHarness(t)
	h.activate(t, fixture{id: "reports", files: entry(`
		function activate() end
		function post_activate()
			exports = { late = function() return "here" end }
		end
	`)})

	got, ok, err := h.host.Linker().Invoke(context.Background(), "reports", "late")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "here", got)
}

func TestRuntime_AssetAndIDFunctions(t *testing.T) {
	h := newHarness(t)
	h.activate(t, fixture{id: "reports", files: entry(`
		function activate() end
		exports = {}
		function exports.probe()
			return {
				icon = shell.asset("icons/default.svg"),
				missing = shell.asset("icons/none.svg") == nil,
				id_len = string.len(shell.new_id()),
				self = shell.is_enabled("REPORTS"),
				other = shell.is_enabled("users-management"),
			}
		end
	`)})

	got, _, err := h.host.Linker().Invoke(context.Background(), "reports", "probe")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"icon":    "<svg/>",
		"missing": true,
		"id_len":  26,
		"self":    true,
		"other":   false,
	}, got)
}

func TestRuntime_ClosedRuntimeRefusesInstances(t *testing.T) {
	rt := extlua.NewRuntime()
	require.NoError(t, rt.Close(context.Background()))

	d := fixture{id: "reports", files: entry(`function activate() end`)}.descriptor(t)
	_, err := rt.Instantiate(context.Background(), d, extension.NewScope(d.ID, d.Location, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime is closed")
}
