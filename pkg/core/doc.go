// Package core provides the domain models and interfaces for the asyncjobs
// module: the Job state machine, job groups and their units, typed errors,
// and the Storage interface implemented by pkg/storage.
package core
