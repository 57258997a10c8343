// Package tracker holds the domain model shared by the price watcher: tracked
// products, their append-only price samples, the refresh signal mailbox, and
// the small interfaces that the cycle runner, signal watcher, fetchers, and
// stores are wired through.
package tracker
