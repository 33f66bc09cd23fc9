package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
)

// defaultKeyPrefix separates pairvote snapshots from other objects when the
// bucket URL carries no path prefix of its own.
const defaultKeyPrefix = "pairvote/snapshots"

// S3Config holds the remote side of snapshot uploads.
type S3Config struct {
	BucketURL    string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// S3Uploader ships snapshot files through the aws CLI (`aws s3 cp`). The
// binary is located at construction time, so a host without it fails at
// startup rather than at the first scheduled upload.
type S3Uploader struct {
	bucket string
	prefix string
	cfg    S3Config
}

// NewS3Uploader validates the bucket URL and credentials. The bucket URL is
// s3://bucket or s3://bucket/prefix; without a prefix the snapshots go under
// defaultKeyPrefix.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := splitBucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("backup: s3 access key and secret key are required")
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, fmt.Errorf("backup: aws cli not found in PATH")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Uploader{bucket: bucket, prefix: prefix, cfg: cfg}, nil
}

// UploadFile copies one snapshot to s3://<bucket>/<prefix>/<basename>.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	dest := "s3://" + u.bucket + "/" + path.Join(u.prefix, path.Base(localPath))

	args := []string{"s3", "cp", localPath, dest, "--region", u.cfg.Region, "--only-show-errors"}
	if ep := endpointURL(u.cfg.Endpoint, u.cfg.UseSSL); ep != "" {
		args = append(args, "--endpoint-url", ep)
	}

	cmd := exec.CommandContext(ctx, "aws", args...)
	cmd.Env = append(os.Environ(),
		"AWS_ACCESS_KEY_ID="+u.cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY="+u.cfg.SecretKey,
		"AWS_DEFAULT_REGION="+u.cfg.Region,
	)
	if tok := strings.TrimSpace(u.cfg.SessionToken); tok != "" {
		cmd.Env = append(cmd.Env, "AWS_SESSION_TOKEN="+tok)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("backup: upload %s: %w: %s", dest, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// endpointURL turns a bare S3-compatible endpoint host into a URL; hosts
// that already carry a scheme pass through unchanged.
func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

// splitBucketURL parses s3://bucket[/prefix].
func splitBucketURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("backup: parse s3 bucket url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("backup: bucket url %q must use the s3:// scheme", raw)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", fmt.Errorf("backup: bucket url %q is missing the bucket name", raw)
	}
	return u.Host, strings.Trim(strings.TrimSpace(u.Path), "/"), nil
}
