// Package protocol defines the messages the embedded navigation runtime
// sends to the host, their JSON wire envelope, and the adapter script that
// is injected into the page to produce them.
//
// Message is a closed union: every variant lives in this package and the
// session handles each one in a single type switch.
package protocol

import "encoding/json"

// Name identifies a message on the wire.
type Name string

const (
	NameVisitProposed         Name = "visitProposed"
	NameVisitStarted          Name = "visitStarted"
	NameVisitRequestCompleted Name = "visitRequestCompleted"
	NameVisitRequestFailed    Name = "visitRequestFailed"
	NameVisitRequestFinished  Name = "visitRequestFinished"
	NamePageLoaded            Name = "pageLoaded"
	NameVisitRendered         Name = "visitRendered"
	NameVisitCompleted        Name = "visitCompleted"
	NamePageInvalidated       Name = "pageInvalidated"
	NameReadinessChanged      Name = "readinessChanged"
	NameRuntimeFailedToLoad   Name = "runtimeFailedToLoad"
)

// Message is one inbound protocol message.
type Message interface {
	Name() Name
	isMessage()
}

// Identified is implemented by messages addressed to a specific visit.
type Identified interface {
	Message
	VisitID() string
}

// VisitProposed asks the host to navigate somewhere. Options is kept raw so
// the receiver decides how to treat malformed payloads.
type VisitProposed struct {
	Location string          `json:"location"`
	Options  json.RawMessage `json:"options"`
}

type VisitStarted struct {
	VisitIdentifier   string `json:"visitIdentifier"`
	HasCachedSnapshot bool   `json:"hasCachedSnapshot"`
	Location          string `json:"location"`
}

type VisitRequestCompleted struct {
	VisitIdentifier string `json:"visitIdentifier"`
}

type VisitRequestFailed struct {
	VisitIdentifier string `json:"visitIdentifier"`
	StatusCode      int    `json:"statusCode"`
}

type VisitRequestFinished struct {
	VisitIdentifier string `json:"visitIdentifier"`
}

// PageLoaded reports the restoration token of the page now on screen.
type PageLoaded struct {
	RestorationIdentifier string `json:"restorationIdentifier"`
}

type VisitRendered struct {
	VisitIdentifier string `json:"visitIdentifier"`
}

type VisitCompleted struct {
	VisitIdentifier       string `json:"visitIdentifier"`
	RestorationIdentifier string `json:"restorationIdentifier"`
}

// PageInvalidated means the runtime can no longer continue on the current
// document and needs a full reload.
type PageInvalidated struct{}

type ReadinessChanged struct {
	IsReady bool `json:"isReady"`
}

// RuntimeFailedToLoad means the adapter found no runtime in the page.
type RuntimeFailedToLoad struct{}

func (VisitProposed) Name() Name         { return NameVisitProposed }
func (VisitStarted) Name() Name          { return NameVisitStarted }
func (VisitRequestCompleted) Name() Name { return NameVisitRequestCompleted }
func (VisitRequestFailed) Name() Name    { return NameVisitRequestFailed }
func (VisitRequestFinished) Name() Name  { return NameVisitRequestFinished }
func (PageLoaded) Name() Name            { return NamePageLoaded }
func (VisitRendered) Name() Name         { return NameVisitRendered }
func (VisitCompleted) Name() Name        { return NameVisitCompleted }
func (PageInvalidated) Name() Name       { return NamePageInvalidated }
func (ReadinessChanged) Name() Name      { return NameReadinessChanged }
func (RuntimeFailedToLoad) Name() Name   { return NameRuntimeFailedToLoad }

func (VisitProposed) isMessage()         {}
func (VisitStarted) isMessage()          {}
func (VisitRequestCompleted) isMessage() {}
func (VisitRequestFailed) isMessage()    {}
func (VisitRequestFinished) isMessage()  {}
func (PageLoaded) isMessage()            {}
func (VisitRendered) isMessage()         {}
func (VisitCompleted) isMessage()        {}
func (PageInvalidated) isMessage()       {}
func (ReadinessChanged) isMessage()      {}
func (RuntimeFailedToLoad) isMessage()   {}

func (m VisitStarted) VisitID() string          { return m.VisitIdentifier }
func (m VisitRequestCompleted) VisitID() string { return m.VisitIdentifier }
func (m VisitRequestFailed) VisitID() string    { return m.VisitIdentifier }
func (m VisitRequestFinished) VisitID() string  { return m.VisitIdentifier }
func (m VisitRendered) VisitID() string         { return m.VisitIdentifier }
func (m VisitCompleted) VisitID() string        { return m.VisitIdentifier }
