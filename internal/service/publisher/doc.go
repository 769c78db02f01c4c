// Package publisher uploads built packages and their signatures to an
// S3-compatible package repository.
package publisher
