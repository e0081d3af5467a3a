package store

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps objects in one bucket.
type S3Store struct {
	bucket   string
	client   S3API
	resolver *Resolver
	http     *http.Client
}

// NewS3Store builds a store on the default AWS credential chain. Anonymous stores sign nothing,
// which public data buckets require.
func NewS3Store(ctx context.Context, bucket, region string, anonymous bool, resolver *Resolver, httpClient *http.Client) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}
	return NewS3StoreWithClient(bucket, s3.NewFromConfig(cfg), resolver, httpClient), nil
}

// NewS3StoreWithClient builds a store on an existing client.
func NewS3StoreWithClient(bucket string, client S3API, resolver *Resolver, httpClient *http.Client) *S3Store {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &S3Store{bucket: bucket, client: client, resolver: resolver, http: httpClient}
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Key resolves a descriptor to its object key.
func (s *S3Store) Key(d Descriptor) (string, error) {
	return s.resolver.Key(d)
}

// SaveFromLocalFile uploads a local file.
func (s *S3Store) SaveFromLocalFile(ctx context.Context, path string, target Descriptor) error {
	key, err := s.resolver.Key(target)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to put s3://%s/%s", s.bucket, key)
	}
	return nil
}

// SaveFromRemote fetches url to a temp file, then uploads it.
func (s *S3Store) SaveFromRemote(ctx context.Context, url string, target Descriptor, creds *Credentials) error {
	if _, err := s.resolver.Key(target); err != nil {
		return err
	}
	tmp, err := fetchToTemp(ctx, s.http, url, creds)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return s.SaveFromLocalFile(ctx, tmp, target)
}

// LoadToLocalFile downloads the addressed object to path.
func (s *S3Store) LoadToLocalFile(ctx context.Context, source Descriptor, path string) error {
	key, err := s.resolver.Key(source)
	if err != nil {
		return err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return errors.Wrapf(ErrNotFound, "s3://%s/%s", s.bucket, key)
		}
		return errors.Wrapf(err, "failed to get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()
	return copyFile(out.Body, path)
}

// List pages through the keys under the filter's prefix.
func (s *S3Store) List(ctx context.Context, filter Filter) ([]Descriptor, error) {
	prefix, err := s.resolver.Prefix(filter)
	if err != nil {
		return nil, err
	}
	var found []Descriptor
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			if d, ok := s.resolver.Parse(filter.Kind, aws.ToString(obj.Key)); ok && filter.Matches(d) {
				found = append(found, d)
			}
		}
	}
	return found, nil
}

// Exists issues a HEAD for the addressed object.
func (s *S3Store) Exists(ctx context.Context, target Descriptor) (bool, error) {
	key, err := s.resolver.Key(target)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NotFound
		if errors.As(err, &missing) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to head s3://%s/%s", s.bucket, key)
	}
	return true, nil
}

// Delete removes the addressed object. S3 reports success for absent keys.
func (s *S3Store) Delete(ctx context.Context, target Descriptor) error {
	key, err := s.resolver.Key(target)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete s3://%s/%s", s.bucket, key)
	}
	return nil
}
