// Package instance tracks the announce file of one managed directory and
// turns changes to it into route commands.
//
// An Instance is not safe for concurrent use. The reconciler owns every
// Instance and calls it from a single dispatch loop.
package instance
