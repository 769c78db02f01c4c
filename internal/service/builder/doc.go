// Package builder sequences a package build: source download, verification,
// the install script, packing and the optional signing and publishing steps.
package builder
