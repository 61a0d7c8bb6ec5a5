// Package scheduler triggers a single recurring job.
//
// A schedule is either a cron expression or a fixed interval. The first run
// happens once the caller's transport reports ready plus a settle delay.
// At most one run is in flight; triggers that arrive while a run is active
// are dropped, not queued.
package scheduler
