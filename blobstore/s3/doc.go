// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("checkpoints/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = checkpoint.Save(ctx, store, "sandbox-1", img)
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large images
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
