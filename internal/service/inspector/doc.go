// Package inspector reports the metadata and payload of a package archive.
package inspector
