// Package storage keeps the client's local records: an audit trail of the
// calls made against the schedule API and, optionally, the notifier's
// dedup windows so they survive a restart. Two drivers exist, plain files
// (JSON Lines on an afero filesystem) and SQLite.
package storage
