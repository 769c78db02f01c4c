// Package digest streams file contents through cryptographic hashes.
//
// File produces the SHA-256 recorded in package manifests. Verify checks a
// downloaded source against a declared digest, dispatching on the algorithm
// name through a registry so new algorithms need no call-site changes.
package digest
