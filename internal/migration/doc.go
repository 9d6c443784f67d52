// Package migration manages the memory store and pattern store's sqlite
// schema using golang-migrate, with migration files embedded at build
// time. Only sqlite is wired: the fleet core runs as a single-node
// pure-Go binary, so the multi-dialect support golang-migrate offers for
// postgres/mysql has no caller here.
package migration
