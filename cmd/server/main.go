package main

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/cors"

	"github.com/cityworks/roadimport/internal/blobstore"
	"github.com/cityworks/roadimport/internal/blobsweep"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/httpserver"
	"github.com/cityworks/roadimport/internal/jobrunner"
	"github.com/cityworks/roadimport/internal/publisher"
	"github.com/cityworks/roadimport/internal/roadstore"
	"github.com/cityworks/roadimport/internal/versionstore"
	"github.com/cityworks/roadimport/internal/wards"
)

func parseEnvVarDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	raw, found := os.LookupEnv(key)
	if !found {
		return fallback
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		slog.ErrorContext(ctx, "unable to parse duration", "key", key, "input value", raw)
		os.Exit(1)
	}

	return duration
}

func parseEnvVarInt(ctx context.Context, key string, fallback int) int {
	raw, found := os.LookupEnv(key)
	if !found {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.ErrorContext(ctx, "unable to parse integer", "key", key, "input value", raw)
		os.Exit(1)
	}

	return n
}

func main() {
	ctx := context.Background()

	projectID := os.Getenv("PROJECT_ID")
	spannerInstance := os.Getenv("SPANNER_INSTANCE")
	spannerDB := os.Getenv("SPANNER_DATABASE")
	versions, err := versionstore.NewClient(ctx, projectID, spannerInstance, spannerDB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create version store client", "error", err.Error())
		os.Exit(1)
	}

	roads := roadstore.NewClient(versions.Client)

	bucket := os.Getenv("GCS_BUCKET")
	if bucket == "" {
		slog.ErrorContext(ctx, "GCS_BUCKET must be set")
		os.Exit(1)
	}
	blobs, err := blobstore.NewClient(ctx, bucket)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create blob store client", "error", err.Error())
		os.Exit(1)
	}
	defer blobs.Close()

	var gazetteer *wards.Gazetteer
	if handle, found := os.LookupEnv("WARDS_BLOB_HANDLE"); found {
		blob, err := blobs.Open(ctx, handle)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open ward gazetteer blob", "handle", handle, "error", err.Error())
			os.Exit(1)
		}
		gazetteer, err = wards.Load(blob.Data)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse ward gazetteer", "error", err.Error())
			os.Exit(1)
		}
		slog.InfoContext(ctx, "ward gazetteer loaded", "wards", len(gazetteer.Names()))
	}

	publishOpts := publisher.Options{
		LockTimeout: parseEnvVarDuration(ctx, "PUBLISH_LOCK_TIMEOUT", 30*time.Second),
		LockLease:   parseEnvVarDuration(ctx, "PUBLISH_LOCK_LEASE", 2*time.Minute),
		HolderID:    "",
	}
	deps := jobrunner.TaskDeps{
		Deps: publisher.Deps{
			Versions: versions,
			Roads:    roads,
			Locker:   roads,
			Blobs:    blobs,
			Now:      nil,
		},
		Wards:       gazetteer,
		PublishOpts: publishOpts,
	}

	runner := jobrunner.NewRunner(
		versions,
		map[domain.JobType]jobrunner.Task{
			domain.JobTypeValidation: jobrunner.NewValidationTask(deps),
			domain.JobTypePublish:    jobrunner.NewPublishTask(deps),
			domain.JobTypeRollback:   jobrunner.NewRollbackTask(deps),
		},
		parseEnvVarInt(ctx, "JOB_WORKER_COUNT", 4),
		parseEnvVarDuration(ctx, "JOB_WALLCLOCK_BUDGET", 15*time.Minute),
	)
	go func() {
		for _, err := range runner.Start(ctx) {
			slog.ErrorContext(ctx, "job runner worker error", "error", err.Error())
		}
	}()

	if interval := parseEnvVarDuration(ctx, "SWEEP_INTERVAL", 0); interval > 0 {
		sweeper := &blobsweep.Sweeper{Blobs: blobs, Index: versions, Kinds: nil}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				res, err := sweeper.Sweep(ctx)
				if err != nil {
					slog.ErrorContext(ctx, "blob sweep failed", "error", err.Error())

					continue
				}
				slog.InfoContext(ctx, "blob sweep complete",
					"scanned", res.Scanned, "deleted", res.Deleted, "errors", res.Errors)
			}
		}()
	}

	allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
	preRequestMiddlewares := []func(http.Handler) http.Handler{
		cors.Handler(
			//nolint: exhaustruct // No need to use every option of 3rd party struct.
			cors.Options{
				AllowedOrigins: []string{allowedOrigin, "http://*"},
				AllowedMethods: []string{"GET", "OPTIONS", "DELETE", "POST"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         300, // Maximum value not ignored by any of major browsers
			}),
	}

	port := cmp.Or(os.Getenv("HTTP_PORT"), "8080")
	previewer := jobrunner.Previewer{Deps: deps}
	srv := httpserver.NewHTTPServer(
		port,
		versions,
		versions,
		blobs,
		previewer,
		runner,
		preRequestMiddlewares,
	)

	slog.InfoContext(ctx, "starting server", "port", port)
	if err := srv.ListenAndServe(); err != nil {
		slog.ErrorContext(ctx, "unable to start server", "error", err.Error())
		os.Exit(1)
	}
}
