// Package backupworker runs controller config backups.
//
// A run authenticates once, refreshes the controller's device rows, and
// fans the targeted devices out to a fixed worker pool through a bounded
// queue. Each worker exports, downloads and stores one device at a time
// and records failures per device, so one bad device never stops the run.
package backupworker
