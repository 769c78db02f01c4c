// Package fetcher downloads build sources into the local source cache,
// retrying transient failures with exponential backoff.
package fetcher
