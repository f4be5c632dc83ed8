package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPollArchiveKey(t *testing.T) {
	id := uuid.MustParse("6f1c1f7e-2a4b-4c55-9d0e-1b2c3d4e5f60")
	if got, want := PollArchiveKey(id), "polls/6f1c1f7e-2a4b-4c55-9d0e-1b2c3d4e5f60.json"; got != want {
		t.Errorf("PollArchiveKey = %q, want %q", got, want)
	}
}

func newTestS3(t *testing.T, expireMinutes int) *S3 {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	s, err := NewS3(context.Background(), S3Config{
		Region:               "eu-west-1",
		AccessKeyID:          "AKIDEXAMPLE",
		SecretAccessKey:      "secret",
		ArchiveBucket:        "classroom-archive",
		PresignExpireMinutes: expireMinutes,
	}, nil)
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	return s
}

func TestPresignExpire(t *testing.T) {
	tests := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 15 * time.Minute},
		{-3, 15 * time.Minute},
		{60, time.Hour},
	}
	for _, tt := range tests {
		if got := newTestS3(t, tt.minutes).PresignExpire(); got != tt.want {
			t.Errorf("PresignExpire(%d) = %v, want %v", tt.minutes, got, tt.want)
		}
	}
}

func TestGeneratePresignedDownloadURL(t *testing.T) {
	s := newTestS3(t, 5)
	key := PollArchiveKey(uuid.New())

	raw, err := s.GeneratePresignedDownloadURL(context.Background(), s.ArchiveBucket(), key, s.PresignExpire())
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if !strings.Contains(u.Host+u.Path, "classroom-archive") || !strings.HasSuffix(u.Path, key) {
		t.Errorf("url = %s, want bucket and key", raw)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "300" {
		t.Errorf("query = %v", q)
	}
}
