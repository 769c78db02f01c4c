// Package integration exercises the build pipeline end to end: a local HTTP source
// server, bash install scripts, signing, packing and an S3-compatible repository.
package integration
