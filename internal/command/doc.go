// Package command recognizes route commands and writes them to the stream
// read by the route-injection consumer.
//
// Lines are opaque apart from their leading keyword. They are written
// verbatim, trailing whitespace included, and each batch is flushed before
// the writer returns.
package command
