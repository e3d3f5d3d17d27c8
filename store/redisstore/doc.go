// Package redisstore implements store.Client on Redis.
//
// Writes, deletes and index queries run as Lua scripts so a document and its
// index entries change together. Index maps are evaluated in the client
// before the write script runs; the script receives one emit flag per index.
package redisstore
