// Package scheduler registers named triggers (cron, interval, daily,
// monthly) and enqueues their jobs into the task engine. It never runs
// jobs itself.
package scheduler
