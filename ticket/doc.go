// Package ticket stores authentication tickets in the remote store.
//
// Ticket ids carry their type in a prefix ("TGT-" for granting tickets, "ST-"
// for service tickets), so counting tickets of one type is a single reduced
// range query over the statistics/all_tickets index. Expiry is the store's
// per-key TTL; nothing here sweeps expired tickets.
package ticket
