package s3util

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Bucket uploads and downloads objects of a single S3 bucket.
type Bucket struct {
	client API
	name   string
}

// NewBucket creates a Bucket.
func NewBucket(client API, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// UniqueKey builds a collision-free object key for a chat upload:
// <chatID>/<base>_<uuid><ext>.
func UniqueKey(chatID int64, fileName string) string {
	base := filepath.Base(fileName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s/%s_%s%s", strconv.FormatInt(chatID, 10), stem, uuid.NewString(), ext)
}

// Put uploads the file at localPath under key and returns the key.
func (b *Bucket) Put(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:  &b.name,
		Key:     &key,
		Body:    f,
		Tagging: ProjectTagging(),
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		input.ContentType = &ct
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Debug().Str("bucket", b.name).Str("key", key).Msg("Uploaded to S3")
	return key, nil
}

// Get downloads key to localPath and returns localPath.
func (b *Bucket) Get(ctx context.Context, key, localPath string) (string, error) {
	if err := DownloadToFile(ctx, b.client, b.name, key, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}
