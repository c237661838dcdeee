// Package storage is the byte-blob persistence layer of the release server.
//
// Backend is implemented by three variants selected once at start-up:
// Local (a directory on disk), Bucket (any gocloud.dev bucket URL such as
// mem://, file://, s3:// or gs://) and S3 (an S3-compatible API via minio-go).
// A missing key is reported as a nil *Object, never as an error. Structured
// documents are stored as JSON through GetJSON and PutJSON.
package storage
