// Package reconciler owns the set of tracked instance directories and
// dispatches normalized watcher events to them one at a time.
package reconciler
