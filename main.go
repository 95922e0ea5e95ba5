// Copyright 2025 The fawa Authors
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

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/fawa-io/drop/pkg/config"
	"github.com/fawa-io/drop/pkg/cors"
	"github.com/fawa-io/drop/pkg/fwlog"
	"github.com/fawa-io/drop/pkg/metrics"
	"github.com/fawa-io/drop/pkg/middleware"
	"github.com/fawa-io/drop/pkg/storage"
	"github.com/fawa-io/drop/pkg/util"
	"github.com/fawa-io/drop/service/file"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fwlog.Fatalf("Failed to initialize configuration: %v", err)
	}
	cfg := config.Get()
	setupLogging(cfg.Log)

	meta, err := openMetaStore(cfg)
	if err != nil {
		fwlog.Fatalf("Failed to open metadata store: %v", err)
	}
	blobs, err := openBlobStore(cfg)
	if err != nil {
		fwlog.Fatalf("Failed to open content store: %v", err)
	}

	if slices.Contains(config.Args(), "clean") {
		os.Exit(clean(meta, blobs))
	}

	prom := metrics.NewProm("drop", nil)
	pipeline := file.NewPipeline(meta, blobs, file.Options{
		MaxBytes: cfg.Upload.MaxBytes(),
		IDLength: cfg.Upload.IDLength,
		Policy: file.Policy{
			Day:   cfg.Retention.Day,
			Week:  cfg.Retention.Week,
			Month: cfg.Retention.Month,
		},
		Metrics: prom,
	})
	collector := file.NewCollector(meta, blobs, pipeline.Generator(), prom)
	handler := file.NewHandler(pipeline, meta, blobs, prom.Handler())

	dropSrv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: middleware.Chain(
			cors.NewCORS().Handler(handler.Routes()),
			middleware.RequestID,
			middleware.AccessLog,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.GC.Interval > 0 {
		go collector.Run(ctx, cfg.GC.Interval)
	}

	// Setup graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fwlog.Info("Shutting down server...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dropSrv.Shutdown(shutdownCtx); err != nil {
			fwlog.Errorf("Server shutdown error: %v", err)
		}
	}()

	fwlog.Infof("Server starting on %v", cfg.Server.Addr)

	if useTLS(cfg.Server) {
		err = dropSrv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
	} else {
		err = dropSrv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		fwlog.Fatalf("Failed to start server: %v", err)
	}
	<-done

	// Close the metadata store last so in-flight uploads can record.
	if err := meta.Close(); err != nil {
		fwlog.Errorf("Error closing metadata store: %v", err)
	}
	fwlog.Info("Server shutdown complete")
}

func setupLogging(c config.LogConfig) {
	lv, err := fwlog.ParseLevel(c.Level)
	if err != nil {
		fwlog.Warnf("Invalid log level %q, using info: %v", c.Level, err)
		lv = fwlog.LevelInfo
	}
	fwlog.SetLevel(lv)
	if c.File != "" {
		fwlog.SetOutput(io.MultiWriter(os.Stderr, fwlog.RotatingFile(c.File, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)))
	}
}

func openMetaStore(cfg config.Config) (storage.MetaStore, error) {
	switch cfg.Meta.Backend {
	case config.MetaBackendDragonfly:
		return storage.NewDragonflyStore(cfg.Meta.DragonflyURL)
	default:
		return storage.OpenFileStore(cfg.Meta.Path)
	}
}

func openBlobStore(cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BlobBackendMinio:
		return storage.NewMinioStore(context.Background(), storage.MinioOptions{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AccessKeyID,
			SecretAccessKey: cfg.Minio.SecretAccessKey,
			Bucket:          cfg.Minio.Bucket,
		})
	default:
		return storage.NewDiskStore(cfg.Storage.Dir)
	}
}

// clean runs one collection sweep and returns the process exit code.
func clean(meta storage.MetaStore, blobs storage.BlobStore) int {
	defer func() {
		if err := meta.Close(); err != nil {
			fwlog.Errorf("Error closing metadata store: %v", err)
		}
	}()

	rep, err := file.NewCollector(meta, blobs, nil, nil).Sweep(context.Background())
	fwlog.Infof("Clean finished: scanned=%d expired=%d orphaned=%d kept=%d",
		rep.Scanned, rep.Expired, rep.Orphaned, rep.Kept)
	if err != nil {
		fwlog.Errorf("Clean: %v", err)
		return 1
	}
	return 0
}

func useTLS(s config.ServerConfig) bool {
	return s.CertFile != "" && s.KeyFile != "" &&
		util.FileExists(s.CertFile) && util.FileExists(s.KeyFile)
}
