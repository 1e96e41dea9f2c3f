package main

import (
	"net/url"
	"path"
	"strings"

	"github.com/hazyhaar/navbridge/scriptview"
)

const simulatedRoot = "https://demo.navbridge.test/"

// simulatedSite serves the demo site used with -simulate. The last path
// segment picks the page behaviour so every failure path can be exercised
// from stdin.
func simulatedSite(location string) scriptview.Page {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return scriptview.Page{NetError: -300} // ERR_INVALID_URL
	}
	switch name := path.Base(u.Path); name {
	case "missing":
		return scriptview.Page{Status: 404}
	case "broken":
		return scriptview.Page{Status: 500}
	case "stale":
		return scriptview.Page{Title: "Stale", Invalidate: true}
	case "insecure":
		return scriptview.Page{TLSError: true}
	case "offline":
		return scriptview.Page{NetError: -106}
	case "static":
		return scriptview.Page{Title: "Static", NoRuntime: true}
	case "legacy":
		return scriptview.Page{Title: "Legacy", Unsupported: true}
	case "/", ".":
		return scriptview.Page{Title: "Home"}
	default:
		return scriptview.Page{Title: strings.ToUpper(name[:1]) + name[1:]}
	}
}
