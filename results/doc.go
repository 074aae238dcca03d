// Package results persists alignment output: the plain text alignment file
// read by downstream scoring, and an optional SQLite store that also keeps
// failed utterances so they can be retried with other settings.
package results
