// Copyright 2025 The VoxFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// S3Fetcher retrieves s3://bucket/key sources. The returned reader
// streams the object body; total is the object size or 0 when unknown.
type S3Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (body io.ReadCloser, total int64, err error)
}

// emptyPayloadHash is the SHA256 of an empty body, required by SigV4
// for GET requests.
var emptyPayloadHash = func() string {
	h := sha256.Sum256(nil)
	return hex.EncodeToString(h[:])
}()

// S3Client fetches S3 objects over plain HTTPS with SigV4 request
// signing from the ambient AWS credential chain. It avoids pulling the
// full S3 service client in for what is a single GET shape.
type S3Client struct {
	region string
	client *http.Client
	signer *v4.Signer

	awsConfig aws.Config

	credMu     sync.Mutex
	creds      aws.Credentials
	credExpiry time.Time
}

// S3Config configures the S3 source client.
type S3Config struct {
	// Region is the bucket region (required).
	Region string

	// HTTPClient performs the signed requests. Required.
	HTTPClient *http.Client

	// ValidateCredentials calls STS GetCallerIdentity at construction
	// so a misconfigured credential chain fails at startup rather than
	// on the first upload job.
	ValidateCredentials bool
}

// NewS3Client builds an S3 source client from the ambient AWS
// configuration (environment, shared config, instance role).
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("artifact: s3 region is required")
	}
	if cfg.HTTPClient == nil {
		return nil, fmt.Errorf("artifact: s3 HTTP client is required")
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}

	c := &S3Client{
		region:    cfg.Region,
		client:    cfg.HTTPClient,
		signer:    v4.NewSigner(),
		awsConfig: awsCfg,
	}

	if cfg.ValidateCredentials {
		stsClient := sts.NewFromConfig(awsCfg)
		validateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := stsClient.GetCallerIdentity(validateCtx, &sts.GetCallerIdentityInput{}); err != nil {
			return nil, fmt.Errorf("artifact: AWS credential validation failed: %w", err)
		}
	}

	return c, nil
}

// Fetch implements S3Fetcher using a virtual-hosted-style GET.
func (c *S3Client) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return nil, 0, err
	}

	endpoint := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, strings.TrimPrefix(key, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("artifact: build s3 request: %w", err)
	}
	req.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)

	if err := c.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, "s3", c.region, time.Now()); err != nil {
		return nil, 0, fmt.Errorf("artifact: sign s3 request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("s3 returned HTTP %d for s3://%s/%s", resp.StatusCode, bucket, key)
	}

	return resp.Body, resp.ContentLength, nil
}

// credentials returns cached credentials, refreshing from the provider
// chain when expired. Cached at most an hour.
func (c *S3Client) credentials(ctx context.Context) (aws.Credentials, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	if !c.credExpiry.IsZero() && time.Now().Before(c.credExpiry) {
		return c.creds, nil
	}

	creds, err := c.awsConfig.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("artifact: resolve AWS credentials: %w", err)
	}

	c.creds = creds
	expiry := creds.Expires
	if expiry.IsZero() || time.Until(expiry) > time.Hour {
		expiry = time.Now().Add(time.Hour)
	}
	c.credExpiry = expiry

	return creds, nil
}
