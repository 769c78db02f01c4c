// Package manifest walks a package root and records every directory and
// regular file with its modification time and SHA-256 digest.
//
// The walk can mirror the root into a staging area at the same time, either
// as top-level symbolic links or as a full copy.
package manifest
