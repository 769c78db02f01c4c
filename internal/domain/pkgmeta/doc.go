// Package pkgmeta defines the package manifest and properties records,
// composes properties from a build specification and serializes both
// metadata documents.
package pkgmeta
