// Package pkgerr defines the failure taxonomy shared by the build and packaging code.
//
// Every failure surfaced to the CLI wraps exactly one of the sentinels, so callers
// classify errors with errors.Is while the original cause stays reachable.
package pkgerr
