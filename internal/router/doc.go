// Package router implements the WAMP session router core: a Dealer that
// routes calls to registered procedures, a Broker that fans publications
// out to subscribers, and the Session that binds one message channel to
// both and also acts as a client of them.
//
// Dealer and Broker are shared by every session of a realm. A Session only
// knows the DealerRole and BrokerRole it was handed; either may be nil, in
// which case the matching requests are refused with role_not_supported.
package router
