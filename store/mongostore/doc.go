// Package mongostore implements store.Client on MongoDB.
//
// Each record carries the list of index keys its value was emitted into, so an
// index query is a filter on that list plus an _id range. Expiry uses a TTL
// index on expiresAt; reads also filter on it because the server removes
// expired records lazily.
package mongostore
