// Package scheduler owns all periodic work of the sidecar.
//
// Each registered Task is bound to a Policy (Interval, DailyAt, Cron). The
// scheduler is trigger-only: robfig/cron computes fire times from the policy
// and every fire is handed to the task engine, which skips it when the
// previous execution of the same task is still in flight.
package scheduler
