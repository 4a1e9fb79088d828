// Package fetcher wraps unit retrieval with retry, backoff and proxy
// failover, and defines the page transport contract used by providers.
//
// Subpackages collyfetcher and headless implement Getter over plain HTTP and a
// headless browser respectively.
package fetcher
