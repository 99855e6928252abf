// Package schedule provides scheduling implementations for periodic jobs.
//
// This package includes:
//   - Schedule interface for defining job schedules
//   - Every() for fixed-interval schedules, with an optional phase offset
//   - Daily() for daily schedules at a specific time
//   - Cron() for cron expression-based schedules
//
// Most users should import the root package github.com/seafloor/asyncjobs
// which re-exports these functions.
package schedule
