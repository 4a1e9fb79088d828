// Command chapterforge fetches serialized web fiction and packages it as a
// single EPUB or Markdown book.
//
// Subcommands:
//   - serve: runs the HTTP API (submit, poll, stream, download) until SIGINT or SIGTERM.
//   - get: builds one book in-process and writes it to disk, with a terminal progress view.
//   - sites: prints the site table the service will accept URLs from.
//
// Configuration comes from an optional YAML file (--config) overridden by
// CHAPTERFORGE_* environment variables, e.g. CHAPTERFORGE_SERVER_PORT or
// CHAPTERFORGE_ARTIFACTS_FORMAT=markdown.
package main
