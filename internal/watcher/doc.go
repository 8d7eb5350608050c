// Package watcher turns fsnotify activity under a monitored root into the
// normalized events consumed by the reconciler.
//
// Native events are coalesced per path and classified against the current
// state of the filesystem when they are delivered, so a burst that ends
// with a directory gone is reported as a removal no matter how the
// individual notifications arrived. Delivery is best effort: callers must
// still poll, which is what Quiescence events are for.
package watcher
