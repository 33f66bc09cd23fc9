package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitBucketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantBkt   string
		wantPre   string
		errSubstr string
	}{
		{
			name:    "bucket only",
			raw:     "s3://my-bucket",
			wantBkt: "my-bucket",
			wantPre: "",
		},
		{
			name:    "bucket with prefix",
			raw:     "s3://my-bucket/team/backups",
			wantBkt: "my-bucket",
			wantPre: "team/backups",
		},
		{
			name:      "invalid scheme",
			raw:       "https://my-bucket/backups",
			wantErr:   true,
			errSubstr: "s3:// scheme",
		},
		{
			name:      "missing bucket",
			raw:       "s3:///backups",
			wantErr:   true,
			errSubstr: "missing the bucket",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotBkt, gotPre, err := splitBucketURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("err = %q, want substring %q", err.Error(), tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitBucketURL error: %v", err)
			}
			if gotBkt != tt.wantBkt {
				t.Fatalf("bucket = %q, want %q", gotBkt, tt.wantBkt)
			}
			if gotPre != tt.wantPre {
				t.Fatalf("prefix = %q, want %q", gotPre, tt.wantPre)
			}
		})
	}
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"", true, ""},
		{"s3.example.com", true, "https://s3.example.com"},
		{"s3.example.com", false, "http://s3.example.com"},
		{"http://minio.local:9000", true, "http://minio.local:9000"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}

func TestNewS3Uploader_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewS3Uploader(S3Config{
		BucketURL: "s3://my-bucket/backups",
		Endpoint:  "s3.amazonaws.com",
		UseSSL:    true,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestNewS3Uploader_DefaultKeyPrefix(t *testing.T) {
	// Stub the aws binary so LookPath succeeds without the real CLI.
	dir := t.TempDir()
	stub := filepath.Join(dir, "aws")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", dir)

	u, err := NewS3Uploader(S3Config{
		BucketURL: "s3://my-bucket",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Uploader: %v", err)
	}
	if u.prefix != defaultKeyPrefix {
		t.Errorf("prefix = %q, want %q", u.prefix, defaultKeyPrefix)
	}
	if u.cfg.Region != "us-east-1" {
		t.Errorf("region = %q, want default us-east-1", u.cfg.Region)
	}
}
