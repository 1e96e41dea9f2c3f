// Package scriptview is a headless web view backed by the goja JavaScript
// engine. Each native load creates a fresh VM holding a minimal client-side
// navigation runtime, and the real protocol adapter is injected into it on
// request. It drives a session exactly like a browser tab would, which makes
// it the transport used by simulations and end-to-end tests.
package scriptview

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/hazyhaar/navbridge/internal/idgen"
	"github.com/hazyhaar/navbridge/navsession"
	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

//go:embed env.js
var envScript string

//go:embed runtime.js
var runtimeScript string

// Page is what a Site serves for one location.
type Page struct {
	// Status is the HTTP status. Zero means 200.
	Status int
	Title  string
	// Invalidate makes the runtime reject the page when it is reached by an
	// in-page visit, forcing a native reload.
	Invalidate bool
	// TLSError fails native loads with a secure transport error.
	TLSError bool
	// NetError fails native loads with this network error code.
	NetError int
	// NoRuntime serves a document without a navigation runtime.
	NoRuntime bool
	// Unsupported serves a runtime that reports itself unsupported.
	Unsupported bool
}

// Site resolves locations to pages.
type Site func(location string) Page

// Session is the coordinator surface the view drives.
type Session interface {
	HandlePayload(payload []byte)
	Interceptor() *navsession.Interceptor
}

// Options configures a View.
type Options struct {
	// Hidden reports the document as hidden, so the adapter skips animation
	// frames.
	Hidden bool
	// ScriptTimeout interrupts any script running longer. Default: 5s.
	ScriptTimeout time.Duration
	Logger        *slog.Logger
}

// View implements navsession.Bridge and navsession.VisualStateNotifier.
// Every operation is queued on a private executor; the goja VM is only ever
// touched from it.
type View struct {
	site    Site
	hidden  bool
	timeout time.Duration
	logger  *slog.Logger
	exec    *navsession.Loop
	newID   idgen.Generator

	mu       sync.Mutex
	sess     Session
	location string
	title    string

	// Executor-confined.
	vm             *goja.Runtime
	frames         []func()
	frameScheduled bool
}

// New creates a View serving pages from site. Call Attach before the first
// visit and Close when done.
func New(site Site, opts Options) *View {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 5 * time.Second
	}
	return &View{
		site:    site,
		hidden:  opts.Hidden,
		timeout: opts.ScriptTimeout,
		logger:  opts.Logger,
		exec:    navsession.NewLoop(opts.Logger),
		newID:   idgen.Prefixed("visit_", idgen.Default),
	}
}

// Attach connects the view to the session it reports to.
func (v *View) Attach(s Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sess = s
}

// Sync waits until every queued operation has run.
func (v *View) Sync() { v.exec.Sync() }

// Close stops the executor after draining it.
func (v *View) Close() { v.exec.Close() }

// Location returns the location of the current document entry.
func (v *View) Location() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.location
}

// Title returns the title of the last rendered page.
func (v *View) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title
}

// Click simulates the user following a link to location. Same-origin links
// are handled by the runtime when it has an adapter; anything else goes
// through the native navigation decision.
func (v *View) Click(location string) {
	v.exec.Dispatch(func() { v.click(location) })
}

// Bridge operations.

func (v *View) LoadLocation(location string) {
	v.exec.Dispatch(func() { v.load(location) })
}

func (v *View) Reload() {
	v.exec.Dispatch(func() { v.load(v.Location()) })
}

func (v *View) Navigate(location string, opts visit.Options, restorationID string) {
	v.exec.Dispatch(func() {
		v.callNative("visitLocationWithOptionsAndRestorationIdentifier",
			location, string(opts.JSON()), restorationID)
	})
}

func (v *View) InstallBridge(onInstalled func()) {
	v.exec.Dispatch(func() {
		if v.vm == nil {
			v.logger.Warn("scriptview: no document to install the adapter into")
			return
		}
		if err := v.run(v.vm, "adapter.js", protocol.AdapterScript); err != nil {
			v.logger.Error("scriptview: install adapter", "error", err)
			return
		}
		onInstalled()
	})
}

func (v *View) RenderColdBoot(visitID string) {
	v.exec.Dispatch(func() { v.callNative("visitRenderedForColdBoot", visitID) })
}

// PostVisualStateCallback calls done once the next frame has been drawn.
func (v *View) PostVisualStateCallback(requestID int64, done func(int64)) {
	v.exec.Dispatch(func() {
		v.requestFrame(func() { done(requestID) })
	})
}

func (v *View) session() Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sess
}

func (v *View) setDocument(location, title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.location = location
	v.title = title
}

func (v *View) load(location string) {
	sess := v.session()
	if sess == nil {
		v.logger.Error("scriptview: load without an attached session", "location", location)
		return
	}
	ic := sess.Interceptor()

	v.vm = nil
	v.frames = nil
	v.setDocument(location, "")
	ic.PageStarted(location)

	page := v.fetch(location)
	switch {
	case page.TLSError:
		ic.ReceivedTLSError(location, func() {
			v.logger.Debug("scriptview: load cancelled", "location", location)
		})
		return
	case page.NetError != 0:
		ic.ReceivedError(navsession.NativeError{
			MainFrame:   true,
			Code:        page.NetError,
			HasCode:     true,
			Description: "network error",
			Location:    location,
		})
		return
	case page.Status >= 400:
		ic.ReceivedHTTPError(location, true, page.Status)
		return
	}

	vm, err := v.newDocument(location, page)
	if err != nil {
		v.logger.Error("scriptview: document setup failed", "location", location, "error", err)
		ic.ReceivedError(navsession.NativeError{MainFrame: true, Description: err.Error(), Location: location})
		return
	}
	v.vm = vm
	v.setDocument(location, page.Title)
	v.logger.Debug("scriptview: document loaded", "location", location, "status", page.Status)
	ic.PageFinished(location)
}

func (v *View) click(location string) {
	sess := v.session()
	if sess == nil {
		return
	}
	if v.vm != nil && sameOrigin(v.Location(), location) && v.adapterRegistered() {
		v.callObject("Turbolinks.controller", "clickLink", location)
		return
	}
	if sess.Interceptor().ShouldOverride(location) {
		return
	}
	v.load(location)
}

func (v *View) fetch(location string) Page {
	var p Page
	if v.site != nil {
		p = v.site(location)
	}
	if p.Status == 0 {
		p.Status = 200
	}
	return p
}

type documentInfo struct {
	Location  string `json:"location"`
	Title     string `json:"title"`
	Runtime   bool   `json:"runtime"`
	Supported bool   `json:"supported"`
}

type response struct {
	Status     int    `json:"status"`
	Title      string `json:"title"`
	Invalidate bool   `json:"invalidate"`
}

func (v *View) newDocument(location string, page Page) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	globals := map[string]any{
		"__hidden": v.hidden,
		"__page": documentInfo{
			Location:  location,
			Title:     page.Title,
			Runtime:   !page.NoRuntime,
			Supported: !page.Unsupported,
		},
		"__fetch": func(loc string) response {
			p := v.fetch(loc)
			return response{Status: p.Status, Title: p.Title, Invalidate: p.Invalidate}
		},
		"__history": func(loc string) {
			v.mu.Lock()
			v.location = loc
			v.mu.Unlock()
		},
		"__render": func(title string) {
			v.mu.Lock()
			v.title = title
			v.mu.Unlock()
		},
		"__newID": func() string { return v.newID() },
		"setTimeout": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("setTimeout: argument is not a function"))
			}
			v.exec.Dispatch(func() { v.invoke(vm, fn) })
			return vm.ToValue(0)
		},
		protocol.BindingName: func(payload string) {
			if s := v.session(); s != nil {
				s.HandlePayload([]byte(payload))
			}
		},
		"requestAnimationFrame": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("requestAnimationFrame: argument is not a function"))
			}
			v.requestFrame(func() { v.invoke(vm, fn) })
			return vm.ToValue(0)
		},
	}
	for name, val := range globals {
		if err := vm.Set(name, val); err != nil {
			return nil, fmt.Errorf("scriptview: set %s: %w", name, err)
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, v.consoleFunc(level)); err != nil {
			return nil, fmt.Errorf("scriptview: console.%s: %w", level, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("scriptview: set console: %w", err)
	}

	if err := v.run(vm, "env.js", envScript); err != nil {
		return nil, err
	}
	if err := v.run(vm, "runtime.js", runtimeScript); err != nil {
		return nil, err
	}
	return vm, nil
}

func (v *View) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.String())
		}
		v.logger.Debug("scriptview: console", "level", level, "args", args)
		return goja.Undefined()
	}
}

// run executes src, interrupting it after the script timeout.
func (v *View) run(vm *goja.Runtime, name, src string) error {
	defer vm.ClearInterrupt()
	t := time.AfterFunc(v.timeout, func() { vm.Interrupt("scriptview: script timeout") })
	defer t.Stop()

	if _, err := vm.RunScript(name, src); err != nil {
		return fmt.Errorf("scriptview: run %s: %w", name, err)
	}
	return nil
}

// invoke runs a callback the document scheduled, unless the document has
// been replaced since.
func (v *View) invoke(vm *goja.Runtime, fn goja.Callable) {
	if v.vm != vm {
		return
	}
	defer vm.ClearInterrupt()
	t := time.AfterFunc(v.timeout, func() { vm.Interrupt("scriptview: callback timeout") })
	defer t.Stop()
	if _, err := fn(goja.Undefined()); err != nil {
		v.logger.Warn("scriptview: scheduled callback failed", "error", err)
	}
}

func (v *View) callNative(method string, args ...any) {
	v.callObject("navbridgeNative", method, args...)
}

// callObject invokes method on the object at path (a dotted global path).
func (v *View) callObject(path, method string, args ...any) {
	if v.vm == nil {
		v.logger.Warn("scriptview: no document", "method", method)
		return
	}
	vm := v.vm
	target, err := vm.RunString(path)
	if err != nil || target == nil || goja.IsUndefined(target) || goja.IsNull(target) {
		v.logger.Warn("scriptview: object not available", "object", path, "method", method)
		return
	}
	obj := target.ToObject(vm)
	fn, ok := goja.AssertFunction(obj.Get(method))
	if !ok {
		v.logger.Warn("scriptview: not a function", "object", path, "method", method)
		return
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = vm.ToValue(a)
	}

	defer vm.ClearInterrupt()
	t := time.AfterFunc(v.timeout, func() { vm.Interrupt("scriptview: call timeout") })
	defer t.Stop()
	if _, err := fn(obj, vals...); err != nil {
		v.logger.Warn("scriptview: call failed", "object", path, "method", method, "error", err)
	}
}

func (v *View) adapterRegistered() bool {
	val, err := v.vm.RunString(`typeof Turbolinks !== "undefined" && !!Turbolinks.controller.adapter`)
	return err == nil && val.ToBoolean()
}

// requestFrame schedules fn for the next frame. Callbacks requested while a
// frame runs land in the following one.
func (v *View) requestFrame(fn func()) {
	v.frames = append(v.frames, fn)
	if v.frameScheduled {
		return
	}
	v.frameScheduled = true
	v.exec.Dispatch(v.drawFrame)
}

func (v *View) drawFrame() {
	fns := v.frames
	v.frames = nil
	v.frameScheduled = false
	for _, fn := range fns {
		fn()
	}
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}
