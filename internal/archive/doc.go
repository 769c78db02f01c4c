// Package archive packs a package root into a package archive and reads archives back.
//
// Pack stages the root, writes the manifest and properties documents next to
// it and archives the staging area either with the system tar or in-process.
// The archive is written to a pending file that only replaces the destination
// once the archiver succeeded.
package archive
