package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/task"
	"linkboost-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Purger deletes proof artifacts after the owning transaction committed.
// It never reports failure to the caller.
type Purger interface {
	Purge(ctx context.Context, refs []string)
}

type PurgePayload struct {
	Refs []string `json:"refs"`
}

type Service struct {
	enqueuer task.Enqueuer
	minio    *minio.Client
	bucket   string
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Enqueuer task.Enqueuer  `optional:"true"`
	Minio    *minio.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		enqueuer: p.Enqueuer,
		minio:    p.Minio,
		bucket:   p.Config.Minio.BucketName,
	}
}

// Purge hands refs to the worker queue. Enqueue failures are logged only.
func (s *Service) Purge(ctx context.Context, refs []string) {
	refs = compact(refs)
	if len(refs) == 0 {
		return
	}
	if s.enqueuer == nil {
		zap.L().Warn("artifact purge skipped, no task queue wired", zap.Int("refs", len(refs)))
		return
	}

	payload, err := json.Marshal(PurgePayload{Refs: refs})
	if err != nil {
		zap.L().Error("failed to encode artifact purge payload", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.ArtifactPurge, payload),
		asynq.Queue(task.QueueLow),
		asynq.MaxRetry(3),
	); err != nil {
		zap.L().Warn("failed to enqueue artifact purge", zap.Strings("refs", refs), zap.Error(err))
	}
}

// HandlePurgeTask deletes each referenced object from the artifact bucket.
func (s *Service) HandlePurgeTask(ctx context.Context, t *asynq.Task) error {
	var payload PurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid artifact purge payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if s.minio == nil {
		return fmt.Errorf("object storage not configured: %w", asynq.SkipRetry)
	}

	var failed int
	for _, ref := range payload.Refs {
		key := s.ObjectKey(ref)
		if key == "" {
			continue
		}
		if err := s.minio.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			failed++
			zap.L().Warn("failed to delete artifact", zap.String("bucket", s.bucket), zap.String("key", key), zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts not deleted", failed, len(payload.Refs))
	}
	return nil
}

// ObjectKey maps a stored reference (an object URL or a bare key) to the
// object key inside the artifact bucket.
func (s *Service) ObjectKey(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		ref = u.Path
	}
	ref = strings.TrimPrefix(ref, "/")
	if s.bucket != "" {
		ref = strings.TrimPrefix(ref, s.bucket+"/")
	}
	return ref
}

func compact(refs []string) []string {
	out := refs[:0:0]
	for _, r := range refs {
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	return out
}
