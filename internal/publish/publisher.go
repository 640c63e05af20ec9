// Package publish uploads rendered previews to object storage. The key is
// deterministic per asset so re-uploads overwrite the same object: the
// bucket always holds the latest preview.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"asset-agent/internal/logging"
	"asset-agent/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	keyPrefix    = "thumbnails/"
	keyExtension = ".jpg"
	cacheControl = "public, max-age=31536000, immutable"
)

// Credentials is the active storage credential set. In an update, empty
// fields mean "keep the currently active value".
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Endpoint  string
}

func (c Credentials) complete() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Region != "" && c.Bucket != ""
}

// client pairs a credential set with its lazily built S3 client, swapped
// atomically as a unit so in-flight uploads keep a consistent pair.
type client struct {
	creds Credentials

	once sync.Once
	s3   *s3.Client
	err  error
}

func (c *client) api(ctx context.Context) (*s3.Client, error) {
	c.once.Do(func() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(c.creds.Region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(c.creds.AccessKey, c.creds.SecretKey, ""),
			),
		)
		if err != nil {
			c.err = fmt.Errorf("load storage config: %w", err)
			return
		}

		var opts []func(*s3.Options)
		if c.creds.Endpoint != "" {
			opts = append(opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(c.creds.Endpoint)
				o.UsePathStyle = true
			})
		}
		c.s3 = s3.NewFromConfig(awsCfg, opts...)
	})
	return c.s3, c.err
}

// Publisher uploads previews and supports credential hot-swap without
// restarting or disturbing in-flight uploads.
type Publisher struct {
	mu     sync.Mutex // serializes Reinitialize against itself
	active atomic.Pointer[client]
}

// New creates a publisher. The initial credential set may be incomplete;
// uploads fail until the catalog pushes the missing fields.
func New(creds Credentials) *Publisher {
	p := &Publisher{}
	p.active.Store(&client{creds: creds})
	return p
}

// ActiveCredentials returns the credential set uploads currently use.
func (p *Publisher) ActiveCredentials() Credentials {
	return p.active.Load().creds
}

// Reinitialize merges the provided fields over the active credential set.
// An identical resulting set is a no-op returning false. Otherwise a new
// client is swapped in atomically and true is returned; uploads already
// running against the previous client finish against it.
func (p *Publisher) Reinitialize(incoming Credentials) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.active.Load().creds
	merged := active
	if incoming.AccessKey != "" {
		merged.AccessKey = incoming.AccessKey
	}
	if incoming.SecretKey != "" {
		merged.SecretKey = incoming.SecretKey
	}
	if incoming.Region != "" {
		merged.Region = incoming.Region
	}
	if incoming.Bucket != "" {
		merged.Bucket = incoming.Bucket
	}
	if incoming.Endpoint != "" {
		merged.Endpoint = incoming.Endpoint
	}

	if merged == active {
		return false
	}

	p.active.Store(&client{creds: merged})
	logging.Info("storage credentials reinitialized (bucket %s, region %s)", merged.Bucket, merged.Region)
	return true
}

// Key returns the deterministic object key for an asset's preview.
func Key(assetID string) string {
	return keyPrefix + assetID + keyExtension
}

// Upload stores the preview bytes and returns the public URL. Re-uploading
// the same asset overwrites the previous object.
func (p *Publisher) Upload(ctx context.Context, assetID string, imageBytes []byte) (string, error) {
	c := p.active.Load()
	if !c.creds.complete() {
		metrics.PreviewUploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("storage credentials incomplete")
	}

	api, err := c.api(ctx)
	if err != nil {
		metrics.PreviewUploadsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	key := Key(assetID)
	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.creds.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(imageBytes),
		ContentType:  aws.String("image/jpeg"),
		CacheControl: aws.String(cacheControl),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		metrics.PreviewUploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("upload preview for %s: %w", assetID, err)
	}

	metrics.PreviewUploadsTotal.WithLabelValues("success").Inc()
	return publicURL(c.creds, key), nil
}

// publicURL builds the deterministic object URL from bucket, region host
// and key.
func publicURL(creds Credentials, key string) string {
	if creds.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(creds.Endpoint, "/"), creds.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", creds.Bucket, creds.Region, key)
}
