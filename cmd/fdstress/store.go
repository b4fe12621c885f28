package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/fdtable/blobstore"
	miniostore "github.com/hupe1980/fdtable/blobstore/minio"
	s3store "github.com/hupe1980/fdtable/blobstore/s3"
)

var errInvalidStore = errors.New("invalid store URL")

// storeTarget is a parsed checkpoint store URL.
//
//	/tmp/fd or file:///tmp/fd
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:4566
//	minio://host:9000/bucket/prefix?secure=false
type storeTarget struct {
	Scheme   string
	Dir      string // file
	Host     string // minio
	Bucket   string // s3, minio
	Prefix   string // s3, minio
	Region   string // s3
	Endpoint string // s3
	Secure   bool   // minio
}

func parseStoreURL(raw string) (storeTarget, error) {
	if raw == "" {
		return storeTarget{}, fmt.Errorf("%w: empty", errInvalidStore)
	}
	if !strings.Contains(raw, "://") {
		return storeTarget{Scheme: "file", Dir: filepath.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return storeTarget{}, fmt.Errorf("%w: %w", errInvalidStore, err)
	}
	q := u.Query()

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return storeTarget{}, fmt.Errorf("%w: %s has no path", errInvalidStore, raw)
		}
		return storeTarget{Scheme: "file", Dir: filepath.Clean(u.Path)}, nil

	case "s3":
		if u.Host == "" {
			return storeTarget{}, fmt.Errorf("%w: %s has no bucket", errInvalidStore, raw)
		}
		return storeTarget{
			Scheme:   "s3",
			Bucket:   u.Host,
			Prefix:   strings.Trim(u.Path, "/"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}, nil

	case "minio":
		bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" {
			return storeTarget{}, fmt.Errorf("%w: %s needs host and bucket", errInvalidStore, raw)
		}
		secure := true
		if v := q.Get("secure"); v != "" {
			if secure, err = strconv.ParseBool(v); err != nil {
				return storeTarget{}, fmt.Errorf("%w: secure: %w", errInvalidStore, err)
			}
		}
		return storeTarget{
			Scheme: "minio",
			Host:   u.Host,
			Bucket: bucket,
			Prefix: prefix,
			Secure: secure,
		}, nil

	default:
		return storeTarget{}, fmt.Errorf("%w: unsupported scheme %q", errInvalidStore, u.Scheme)
	}
}

// openStore connects to target. MinIO credentials come from
// MINIO_ACCESS_KEY and MINIO_SECRET_KEY; S3 uses the shared AWS
// configuration.
func openStore(ctx context.Context, target storeTarget, getenv func(string) string) (blobstore.Store, error) {
	switch target.Scheme {
	case "file":
		return blobstore.NewLocalStore(target.Dir), nil

	case "s3":
		opts := []s3store.Option{s3store.WithPrefix(target.Prefix)}
		if target.Region != "" {
			opts = append(opts, s3store.WithRegion(target.Region))
		}
		if target.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(target.Endpoint))
		}
		return s3store.New(ctx, target.Bucket, opts...)

	case "minio":
		access, secret := getenv("MINIO_ACCESS_KEY"), getenv("MINIO_SECRET_KEY")
		if access == "" || secret == "" {
			return nil, errors.New("minio store needs MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
		}
		return miniostore.Connect(ctx, target.Host, access, secret, target.Secure, target.Bucket, target.Prefix)

	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", errInvalidStore, target.Scheme)
	}
}
