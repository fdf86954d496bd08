// Package s3 implements the S3 backend shell (C7) and its I/O engines: the
// block-parallel prefetch reader (C8), the shared-cache reader (C9), the
// bounded multipart buffered writer (C10), the limited-seekable writer
// (C11), and the cached/memory file handles (C12/C13).
package s3

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/NVIDIA/mscfile/backend"
)

// ClientOptions configures NewDefaultClient.
type ClientOptions struct {
	Endpoint                  string
	Region                    string
	AccessKeyID               string
	SecretAccessKey           string
	VirtualHostedStyleRequest bool
	AllowHTTP                 bool
	SkipTLSVerify             bool
	RetryDelay                []time.Duration // per-attempt backoff, mirrors the teacher's custom aws.Retryer
}

// defaultRetryDelay matches the teacher's backendConfigS3Struct.retryDelay
// default shape: a short, small number of fixed backoff steps rather than
// the SDK's own exponential-jitter retryer.
var defaultRetryDelay = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	2 * time.Second,
}

// sdkClient adapts *s3.Client to backend.S3API. It also implements
// aws.Retryer itself, the same "backend IS its own retryer" pattern
// backend_s3.go uses, so retry policy lives with the client construction
// rather than a separate decorator for calls the SDK already retries
// internally (uploads/downloads still pass through the core retry.Policy
// in reader.go/writer.go for block-level retries).
type sdkClient struct {
	client     *s3.Client
	retryDelay []time.Duration
}

// NewDefaultClient builds the production backend.S3API implementation,
// wiring aws-sdk-go-v2's S3 client exactly the way backend_s3.go's
// setupS3Context does: static credentials, a path- or virtual-hosted-style
// endpoint, and a custom retryer installed via config.WithRetryer.
func NewDefaultClient(ctx context.Context, opts ClientOptions) (backend.S3API, error) {
	sc := &sdkClient{retryDelay: opts.RetryDelay}
	if len(sc.retryDelay) == 0 {
		sc.retryDelay = defaultRetryDelay
	}

	configOptions := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     opts.AccessKeyID,
				SecretAccessKey: opts.SecretAccessKey,
			},
		}),
		config.WithRegion(opts.Region),
		config.WithRetryer(func() aws.Retryer { return sc }),
	}

	if opts.SkipTLSVerify {
		customHTTPClient := awshttp.NewBuildableClient().WithTransportOptions(func(t *http.Transport) {
			if t.TLSClientConfig == nil {
				t.TLSClientConfig = &tls.Config{}
			}
			t.TLSClientConfig.InsecureSkipVerify = true
			t.TLSClientConfig.MinVersion = tls.VersionTLS12
		})
		configOptions = append(configOptions, config.WithHTTPClient(customHTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, err
	}

	scheme := "https://"
	if opts.AllowHTTP {
		scheme = "http://"
	}
	endpoint := scheme + opts.Endpoint

	sc.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = !opts.VirtualHostedStyleRequest
	})

	return sc, nil
}

// --- aws.Retryer, grounded on backendStruct's methods in backend_s3.go ---

func (sc *sdkClient) IsErrorRetryable(err error) bool {
	var httpErr *awshttp.ResponseError
	if err == nil {
		return false
	}
	if !errors.As(err, &httpErr) {
		return true
	}
	status := httpErr.HTTPStatusCode()
	return status < 400 || status == http.StatusTooManyRequests || status >= 500
}

func (sc *sdkClient) MaxAttempts() int { return len(sc.retryDelay) + 1 }

func (sc *sdkClient) RetryDelay(attempt int, _ error) (time.Duration, error) {
	if attempt < 1 || attempt > len(sc.retryDelay) {
		return 0, errors.New("unexpected retry attempt")
	}
	return sc.retryDelay[attempt-1], nil
}

func (sc *sdkClient) GetRetryToken(ctx context.Context, opErr error) (func(error) error, error) {
	return func(error) error { return nil }, nil
}
func (sc *sdkClient) GetInitialToken() func(error) error {
	return func(error) error { return nil }
}
func (sc *sdkClient) GetAttemptToken(context.Context) (func(error) error, error) {
	return func(error) error { return nil }, nil
}

// --- backend.S3API ---

func (sc *sdkClient) HeadObject(bucket, key string) (backend.S3ObjectMeta, error) {
	out, err := sc.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key),
	})
	if err != nil {
		return backend.S3ObjectMeta{}, err
	}
	meta := backend.S3ObjectMeta{}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if v, ok := out.Metadata["content-md5-hex"]; ok {
		meta.ContentMD5Hex = v
	}
	return meta, nil
}

func (sc *sdkClient) GetObject(bucket, key, rangeHeader string) (io.ReadCloser, backend.S3ObjectMeta, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if rangeHeader != "" {
		in.Range = aws.String(rangeHeader)
	}
	out, err := sc.client.GetObject(context.Background(), in)
	if err != nil {
		return nil, backend.S3ObjectMeta{}, err
	}
	meta := backend.S3ObjectMeta{}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return out.Body, meta, nil
}

func (sc *sdkClient) PutObject(bucket, key string, body io.Reader, contentMD5Hex string) (string, error) {
	in := &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: body}
	if contentMD5Hex != "" {
		in.Metadata = map[string]string{"content-md5-hex": contentMD5Hex}
	}
	out, err := sc.client.PutObject(context.Background(), in)
	if err != nil {
		return "", err
	}
	if out.ETag != nil {
		return *out.ETag, nil
	}
	return "", nil
}

func (sc *sdkClient) CreateMultipartUpload(bucket, key string, contentMD5Hex string) (string, error) {
	in := &s3.CreateMultipartUploadInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if contentMD5Hex != "" {
		in.Metadata = map[string]string{"content-md5-hex": contentMD5Hex}
	}
	out, err := sc.client.CreateMultipartUpload(context.Background(), in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.UploadId), nil
}

func (sc *sdkClient) UploadPart(bucket, key, uploadID string, partNumber int32, body io.Reader) (string, error) {
	out, err := sc.client.UploadPart(context.Background(), &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       body,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (sc *sdkClient) CompleteMultipartUpload(bucket, key, uploadID string, parts []backend.CompletedPart) (string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		})
	}
	out, err := sc.client.CompleteMultipartUpload(context.Background(), &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (sc *sdkClient) AbortMultipartUpload(bucket, key, uploadID string) error {
	_, err := sc.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket: aws.String(bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
	})
	return err
}

func (sc *sdkClient) DeleteObject(bucket, key string) error {
	_, err := sc.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key),
	})
	return err
}

func (sc *sdkClient) ListObjectsV2(bucket, prefix, delimiter, continuationToken string, maxKeys int32) (backend.S3ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(maxKeys),
	}
	if continuationToken != "" {
		in.ContinuationToken = aws.String(continuationToken)
	}
	out, err := sc.client.ListObjectsV2(context.Background(), in)
	if err != nil {
		return backend.S3ListPage{}, err
	}

	page := backend.S3ListPage{
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		page.NextContinuationToken = *out.NextContinuationToken
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	for _, obj := range out.Contents {
		summary := backend.S3ObjectSummary{Key: aws.ToString(obj.Key), ETag: aws.ToString(obj.ETag)}
		if obj.Size != nil {
			summary.Size = *obj.Size
		}
		if obj.LastModified != nil {
			summary.LastModified = *obj.LastModified
		}
		page.Contents = append(page.Contents, summary)
	}
	return page, nil
}

func (sc *sdkClient) CopyObject(srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	out, err := sc.client.CopyObject(context.Background(), &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return "", err
	}
	if out.CopyObjectResult != nil {
		return aws.ToString(out.CopyObjectResult.ETag), nil
	}
	return "", nil
}

var _ backend.S3API = (*sdkClient)(nil)
var _ aws.Retryer = (*sdkClient)(nil)
