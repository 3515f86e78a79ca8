// Package export hands closed conversations to the external analyzer.
//
// A batch is a slice of Payload values, one per conversation, each carrying the
// conversation and its messages in event order. Dispatchers only report whether
// the hand-off succeeded. Callers close conversations after a successful
// dispatch, so a failed batch is retried on the next sweep and the analyzer must
// tolerate seeing the same conversation twice.
//
// Implementations:
//
//   - HTTPDispatcher: POST <analyzer.url>/analyze with the batch as a JSON array
//   - FileDispatcher: write the batch to a JSON file in a directory
//   - MultiDispatcher: send to several dispatchers, failing if any fails
//   - NopDispatcher: log and drop, used when nothing is configured
package export
