// Package security provides validation, sanitization, and limits for the
// asyncjobs module.
package security
