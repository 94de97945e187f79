// Package secrets redacts credentials from text before it leaves the relay.
//
// Progress messages are derived from actor output, which can quote
// environment files, connection strings or tokens verbatim. Publisher wraps
// a progress.Publisher and scrubs every update's message and string payload
// on the way out.
package secrets
