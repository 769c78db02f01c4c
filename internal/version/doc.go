// Package version exposes build metadata of xbps-builder.
//
// Version, Commit and BuildTime are injected with -ldflags "-X" at release time
// and keep development defaults otherwise.
package version
