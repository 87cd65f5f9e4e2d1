// Package serialize holds the concrete codecs behind wamp.Serializer.
//
// Ownership boundary:
// - JSON text codec with the WAMP binary-string convention
// - MessagePack binary codec
// - name, websocket subprotocol and rawsocket id lookups
package serialize
