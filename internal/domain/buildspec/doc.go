// Package buildspec loads the declarative build.yml document.
//
// Documents are checked against an embedded JSON Schema before decoding,
// so structural mistakes are reported with a path into the document.
package buildspec
