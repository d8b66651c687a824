// Package report persists a record of what a finalization run changed.
//
// The FileRepository stores the record as a google.protobuf.Struct encoded
// with protojson; the finalization time uses the JSON form of
// google.protobuf.Timestamp. Prepare stages the encoded record next to its
// destination so callers can check it is writable before committing other work.
package report
