// Package packager turns an already installed package root into a package archive.
//
// It skips the download and install steps of a build, which makes it the tool of
// choice when the tree was produced elsewhere or needs repacking with other settings.
package packager
