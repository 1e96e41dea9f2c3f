// CLAUDE:SUMMARY Launches or connects to Chrome through Rod and opens stealth tabs for the navigation bridge.
package webview

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the browser Manager.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful shows the browser window. Default: headless.
	Headful bool

	// Stealth applies go-rod/stealth evasions to every tab. Default: true
	// through DefaultBrowserConfig.
	Stealth bool

	// Bin is the Chrome binary. Empty = let the launcher find or download one.
	Bin string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns a headless, stealth configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Stealth: true}
}

func (c *BrowserConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process or remote connection.
type Manager struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg BrowserConfig) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("webview: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	log := m.cfg.Logger
	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("webview: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("webview: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("webview: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("webview: connect: %w", err)
	}
	// Certificate errors are left enabled: they are reported to the session
	// as secure transport failures.
	m.browser = b
	return b, nil
}

// NewPage opens a blank tab.
func (m *Manager) NewPage() (*rod.Page, error) {
	b, err := m.Start()
	if err != nil {
		return nil, err
	}
	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("webview: create tab: %w", err)
	}
	return page, nil
}

// Close shuts Chrome down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
