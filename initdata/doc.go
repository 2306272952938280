// Package initdata validates the signed launch parameters ("init data") that
// the Telegram client attaches to every Mini App session.
//
// Validation happens in three steps:
//   - Parse decodes the query string into an ordered list of fields
//   - Verifier checks the HMAC-SHA256 "hash" field against the data-check-string
//   - ExtractIdentity decodes the "user" field of a verified payload
//
// Values are percent-decoded exactly once before they enter the
// data-check-string. This matches what the signing side hashes; decoding a
// second time breaks every payload whose user data contains a literal '%'.
//
// Nothing in this package blocks or performs I/O.
package initdata
