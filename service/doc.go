// Package service stores service registrations in the remote store.
//
// A registration is stored under its decimal id with no expiry. New ids come
// from the atomic counter at LAST_ID. Records are a closed tagged union: the
// JSON "kind" field selects the variant on decode.
package service
