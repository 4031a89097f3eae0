package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/fpang/polybot/internal/groupstore"
	"github.com/rs/zerolog/log"
)

// Staging keeps media group members in S3 under <prefix>/<groupID>/ so
// that every Lambda container sees the same members. References are object
// keys; Local downloads them into cacheDir on first use.
type Staging struct {
	client   API
	bucket   string
	prefix   string
	cacheDir string
}

// Compile-time interface check.
var _ groupstore.Staging = (*Staging)(nil)

// NewStaging creates an S3 staging area.
func NewStaging(client API, bucket, prefix, cacheDir string) *Staging {
	return &Staging{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		cacheDir: cacheDir,
	}
}

// GroupPrefix returns the key prefix holding the members of a group.
func (s *Staging) GroupPrefix(groupID string) string {
	return path.Join(s.prefix, strings.ReplaceAll(groupID, "/", "_")) + "/"
}

func (s *Staging) Put(ctx context.Context, groupID, name string, data []byte) (string, error) {
	key := s.GroupPrefix(groupID) + path.Base(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:  &s.bucket,
		Key:     &key,
		Body:    bytes.NewReader(data),
		Tagging: ProjectTagging(),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return key, nil
}

func (s *Staging) localPath(ref string) string {
	return filepath.Join(s.cacheDir, filepath.FromSlash(ref))
}

func (s *Staging) Local(ctx context.Context, ref string) (string, error) {
	p := s.localPath(ref)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	if err := DownloadToFile(ctx, s.client, s.bucket, ref, p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Staging) Discard(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &ref})
	if err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", ref, err)
	}
	if err := os.Remove(s.localPath(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("ref", ref).Msg("Failed to remove cached member")
	}
	return nil
}

// Remove deletes every object under the group prefix and the local cache
// of the group.
func (s *Staging) Remove(ctx context.Context, groupID string) error {
	prefix := s.GroupPrefix(groupID)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &s.bucket,
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("S3 DeleteObjects %s: %w", prefix, err)
		}
		deleted += len(ids)
	}

	if _, err := groupstore.ClearDir(s.localPath(prefix)); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("Failed to clear member cache")
	}
	os.Remove(s.localPath(prefix))

	log.Debug().Str("prefix", prefix).Int("deleted", deleted).Msg("Removed staged group")
	return nil
}
