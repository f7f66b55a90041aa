package storage

import (
	"context"
	"path"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/control-tower/internal/pipeline"
)

// ArtifactPublisher uploads run artifacts under prefix/tenant/as-of/run-id.
type ArtifactPublisher struct {
	store  ObjectStorage
	prefix string
}

// NewArtifactPublisher creates a publisher writing below prefix.
func NewArtifactPublisher(store ObjectStorage, prefix string) *ArtifactPublisher {
	return &ArtifactPublisher{store: store, prefix: prefix}
}

// Name implements pipeline.Publisher.
func (p *ArtifactPublisher) Name() string { return "object_storage" }

// Publish implements pipeline.Publisher. The report is uploaded last so its
// presence marks a complete artifact set.
func (p *ArtifactPublisher) Publish(ctx context.Context, res *pipeline.Result) error {
	artifacts, err := pipeline.BuildArtifacts(res)
	if err != nil {
		return err
	}

	base := path.Join(p.prefix, pipeline.ArtifactPrefix(res))
	var report *pipeline.Artifact
	for i := range artifacts {
		a := &artifacts[i]
		if a.Name == "report.json" {
			report = a
			continue
		}
		if err := p.store.UploadObject(ctx, path.Join(base, a.Name), a.Body, a.ContentType); err != nil {
			return err
		}
	}
	if report != nil {
		if err := p.store.UploadObject(ctx, path.Join(base, report.Name), report.Body, report.ContentType); err != nil {
			return err
		}
	}

	zerolog.Ctx(ctx).Info().Str("prefix", base).Int("objects", len(artifacts)).Msg("uploaded run artifacts")
	return nil
}

// Retract implements pipeline.Retractor by deleting the run's objects,
// report first so a partial set never looks complete.
func (p *ArtifactPublisher) Retract(ctx context.Context, res *pipeline.Result) error {
	base := path.Join(p.prefix, pipeline.ArtifactPrefix(res))
	if err := p.store.DeleteObject(ctx, path.Join(base, "report.json")); err != nil {
		return err
	}
	objects, err := p.store.ListObjects(ctx, base+"/")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := p.store.DeleteObject(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ pipeline.Publisher = (*ArtifactPublisher)(nil)
	_ pipeline.Retractor = (*ArtifactPublisher)(nil)
)
