// Package webview drives a Chrome tab through the DevTools protocol as the
// session's web view. Native page events become Interceptor calls, link
// navigations are paused through request interception and handed to the
// navigation decision, and the protocol adapter talks back through a
// Runtime binding.
package webview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/navbridge/navsession"
	"github.com/hazyhaar/navbridge/protocol"
	"github.com/hazyhaar/navbridge/visit"
)

// Session is the coordinator surface the view drives.
type Session interface {
	HandlePayload(payload []byte)
	Interceptor() *navsession.Interceptor
}

// Options configures a View.
type Options struct {
	// CallTimeout bounds every DevTools call. Default: 30s.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// View implements navsession.Bridge and navsession.VisualStateNotifier over
// a rod page. Bridge calls are queued on a private executor so the session
// never waits on the browser.
type View struct {
	page    *rod.Page
	router  *rod.HijackRouter
	exec    *navsession.Loop
	timeout time.Duration
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	sess Session

	// selfLoad is set while a load the view itself started is in flight;
	// its document requests bypass the navigation decision.
	selfLoad atomic.Bool

	// Event-loop confined.
	committed    string
	mainRequests map[proto.NetworkRequestID]string
}

// Open prepares page for a session: it enables the needed domains, adds the
// protocol binding and starts listening. Call Attach before the first visit.
func Open(page *rod.Page, opts Options) (*View, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		page:         page,
		exec:         navsession.NewLoop(opts.Logger),
		timeout:      opts.CallTimeout,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
		mainRequests: make(map[proto.NetworkRequestID]string),
	}

	if err := (proto.PageEnable{}).Call(page); err != nil {
		v.Close()
		return nil, fmt.Errorf("webview: enable page domain: %w", err)
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		v.Close()
		return nil, fmt.Errorf("webview: enable network domain: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: protocol.BindingName}).Call(page); err != nil {
		v.Close()
		return nil, fmt.Errorf("webview: add binding: %w", err)
	}

	v.router = page.HijackRequests()
	if err := v.router.Add("*", proto.NetworkResourceTypeDocument, v.route); err != nil {
		v.Close()
		return nil, fmt.Errorf("webview: hijack: %w", err)
	}
	go v.router.Run()

	wait := page.Context(ctx).EachEvent(
		v.onRequest,
		v.onFrameNavigated,
		v.onLoad,
		v.onResponse,
		v.onLoadingFailed,
		v.onBinding,
	)
	go wait()

	return v, nil
}

// Attach connects the view to the session it reports to.
func (v *View) Attach(s Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sess = s
}

// Sync waits until every queued bridge call has run.
func (v *View) Sync() { v.exec.Sync() }

// Close stops listening and interception. The page itself stays open.
func (v *View) Close() {
	v.cancel()
	if v.router != nil {
		if err := v.router.Stop(); err != nil {
			v.logger.Debug("webview: stop router", "error", err)
		}
	}
	v.exec.Close()
}

func (v *View) session() Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sess
}

func (v *View) call() *rod.Page {
	return v.page.Context(v.ctx).Timeout(v.timeout)
}

// Bridge operations.

func (v *View) LoadLocation(location string) {
	v.exec.Dispatch(func() {
		v.selfLoad.Store(true)
		if err := v.call().Navigate(location); err != nil {
			v.logger.Warn("webview: navigate", "location", location, "error", err)
		}
	})
}

func (v *View) Reload() {
	v.exec.Dispatch(func() {
		v.selfLoad.Store(true)
		if err := (proto.PageReload{}).Call(v.call()); err != nil {
			v.logger.Warn("webview: reload", "error", err)
		}
	})
}

func (v *View) Navigate(location string, opts visit.Options, restorationID string) {
	v.exec.Dispatch(func() {
		_, err := v.call().Eval(
			`(l, o, r) => window.navbridgeNative.visitLocationWithOptionsAndRestorationIdentifier(l, o, r)`,
			location, string(opts.JSON()), restorationID)
		if err != nil {
			v.logger.Warn("webview: visit", "location", location, "error", err)
		}
	})
}

func (v *View) InstallBridge(onInstalled func()) {
	v.exec.Dispatch(func() {
		res, err := proto.RuntimeEvaluate{Expression: protocol.AdapterScript}.Call(v.call())
		if err == nil && res.ExceptionDetails != nil {
			err = errors.New(res.ExceptionDetails.Text)
		}
		if err != nil {
			v.logger.Error("webview: install adapter", "error", err)
			return
		}
		onInstalled()
	})
}

func (v *View) RenderColdBoot(visitID string) {
	v.exec.Dispatch(func() {
		_, err := v.call().Eval(`(id) => window.navbridgeNative.visitRenderedForColdBoot(id)`, visitID)
		if err != nil {
			v.logger.Warn("webview: render cold boot", "error", err)
		}
	})
}

// PostVisualStateCallback calls done once the page has drawn two frames
// (immediately for hidden documents).
func (v *View) PostVisualStateCallback(requestID int64, done func(int64)) {
	v.exec.Dispatch(func() {
		_, err := v.call().Eval(`() => new Promise((resolve) => {
			if (document.hidden) { resolve(); return; }
			requestAnimationFrame(() => requestAnimationFrame(() => resolve()));
		})`)
		if err != nil {
			v.logger.Warn("webview: visual state", "error", err)
			return
		}
		done(requestID)
	})
}

// route decides main-frame document requests. Anything the view did not
// start itself is a user navigation.
func (v *View) route(h *rod.Hijack) {
	ev := h.Request.Event()
	if ev == nil || ev.FrameID != v.page.FrameID || v.selfLoad.Load() {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}
	sess := v.session()
	if sess != nil && sess.Interceptor().ShouldOverride(h.Request.URL().String()) {
		h.Response.Fail(proto.NetworkErrorReasonAborted)
		return
	}
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

// Event handlers. rod calls them sequentially from one goroutine.

func (v *View) onRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Type == proto.NetworkResourceTypeDocument && e.FrameID == v.page.FrameID && e.Request != nil {
		v.mainRequests[e.RequestID] = e.Request.URL
	}
}

func (v *View) onFrameNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	v.committed = e.Frame.URL
	if sess := v.session(); sess != nil {
		sess.Interceptor().PageStarted(e.Frame.URL)
	}
}

func (v *View) onLoad(*proto.PageLoadEventFired) {
	v.selfLoad.Store(false)
	clear(v.mainRequests)
	if sess := v.session(); sess != nil && v.committed != "" {
		sess.Interceptor().PageFinished(v.committed)
	}
}

func (v *View) onResponse(e *proto.NetworkResponseReceived) {
	location, main := v.mainRequests[e.RequestID]
	if !main || e.Response == nil || e.Response.Status < 400 {
		return
	}
	if sess := v.session(); sess != nil {
		sess.Interceptor().ReceivedHTTPError(location, true, e.Response.Status)
	}
}

func (v *View) onLoadingFailed(e *proto.NetworkLoadingFailed) {
	location, main := v.mainRequests[e.RequestID]
	delete(v.mainRequests, e.RequestID)
	if !main || e.Canceled {
		return
	}
	v.selfLoad.Store(false)
	sess := v.session()
	if sess == nil {
		return
	}
	ic := sess.Interceptor()
	if isTLSError(e.ErrorText) {
		// Chrome has already aborted the load.
		ic.ReceivedTLSError(location, func() {})
		return
	}
	code, ok := netErrorCode(e.ErrorText)
	ic.ReceivedError(navsession.NativeError{
		MainFrame:   true,
		Code:        code,
		HasCode:     ok,
		Description: e.ErrorText,
		Location:    location,
	})
}

func (v *View) onBinding(e *proto.RuntimeBindingCalled) {
	if e.Name != protocol.BindingName {
		return
	}
	if sess := v.session(); sess != nil {
		sess.HandlePayload([]byte(e.Payload))
	}
}
