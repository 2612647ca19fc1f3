// Package place defines the place value object the gatekeeper authorizes
// against. Places are owned by the places collaborator and are treated as
// immutable for the duration of one request.
package place

import "strings"

// Place is a scene addressed by parcels or a world addressed by name.
type Place struct {
	ID           string
	Title        string
	Positions    []string
	BasePosition string
	WorldName    string
	IsWorld      bool
	Disabled     bool
	Owner        string
}

// Status is the enabled/disabled summary the places collaborator returns
// for batch lookups.
type Status struct {
	ID           string
	Disabled     bool
	IsWorld      bool
	WorldName    string
	BasePosition string
}

// NormalizeWorldName lowercases a world name so "Foo.dcl.eth" and
// "foo.dcl.eth" address the same world.
func NormalizeWorldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeParcel trims and strips spaces from an "x,y" parcel pointer.
func NormalizeParcel(parcel string) string {
	return strings.ReplaceAll(strings.TrimSpace(parcel), " ", "")
}

// Label returns a human-facing identifier used in notifications and logs.
func (p Place) Label() string {
	if title := strings.TrimSpace(p.Title); title != "" {
		return title
	}
	if p.IsWorld {
		return p.WorldName
	}
	return p.BasePosition
}
