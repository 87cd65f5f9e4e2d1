// Package wamp owns the WAMP v2 message model.
//
// Ownership boundary:
// - typed messages and their positional wire shape
// - parse/validation of raw message lists
// - option dictionaries, identifiers and error URIs
// - the serializer contract the transport side plugs into
package wamp
