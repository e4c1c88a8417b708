package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/middleware-demo/internal/cfg"
	"github.com/keithlinneman/middleware-demo/internal/content"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/metrics"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// setupContent returns the manager the static stage reads from. With an S3
// bucket configured the pinned or SSM-selected bundle is loaded, falling back
// to the local directory when that fails; a bundle followed through SSM is
// then polled for changes until ctx ends.
func setupContent(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) (*content.Manager, error) {
	mgr := content.NewManager()
	record := func(s *content.Snapshot) {
		m.SetContentSource(string(s.Meta.Source))
		m.SetContentBundle(s.Meta.SHA256)
		m.SetContentLoadedTimestamp(s.LoadedAt)
	}

	if !conf.StaticFromS3() {
		snap, err := content.LoadDir(conf.StaticDir)
		if err != nil {
			return nil, err
		}
		mgr.Set(*snap)
		record(snap)
		L.Info(ctx, "serving static content from disk", "dir", snap.Meta.Location)
		return mgr, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	loader, err := content.NewLoader(ctx, content.LoaderOptions{
		Logger:    L,
		S3Bucket:  conf.StaticS3Bucket,
		S3Prefix:  conf.StaticS3Prefix,
		SSMParam:  pollParam(conf),
		Hash:      conf.StaticBundleHash,
		AWSConfig: &awsCfg,
	})
	if err != nil {
		return nil, err
	}

	validation := content.DefaultValidationOptions()
	snap, err := loader.Load(ctx)
	if err == nil {
		err = content.ValidateSnapshot(snap, validation)
	}
	switch {
	case err == nil:
		mgr.Set(*snap)
		record(snap)
		L.Info(ctx, "serving static content bundle",
			"content_version", mgr.ContentVersion(),
			"content_hash", mgr.ContentHash(),
		)
	case conf.StaticDir != "":
		L.Error(ctx, err, "failed to load static bundle, falling back to disk", "dir", conf.StaticDir)
		disk, derr := content.LoadDir(conf.StaticDir)
		if derr != nil {
			return nil, xerrors.Wrap(derr, "load fallback static dir")
		}
		mgr.Set(*disk)
		record(disk)
	default:
		return nil, err
	}

	if conf.StaticPolls() {
		w := content.NewWatcher(content.WatcherOptions{
			Logger:       L,
			Loader:       loader,
			Manager:      mgr,
			PollInterval: conf.StaticPollEvery,
			Validation:   &validation,
			Metrics:      m,
			OnSwap:       record,
		})
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				L.Error(ctx, err, "content watcher stopped")
			}
		}()
	}
	return mgr, nil
}

// pollParam is the SSM parameter unless a hash is pinned.
func pollParam(conf cfg.App) string {
	if conf.StaticBundleHash != "" {
		return ""
	}
	return conf.StaticSSMParam
}
