// Package ingest runs one resumable pass over the processing registry.
//
// For every unprocessed group and every configured measurement type, the
// query range is split into budget-sized batches (package batch), each
// batch is fetched from the bulk API (package bulkapi) and written to the
// group's raw directory. A group is marked processed only when no batch of
// any type failed. A pass that leaves groups behind returns ErrIncomplete so
// an outer supervisor can cool down and scan again.
package ingest
