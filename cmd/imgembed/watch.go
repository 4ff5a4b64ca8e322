package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/imgembed/internal/cli"
	"github.com/hyperjump/imgembed/internal/contentid"
	"github.com/hyperjump/imgembed/internal/models"
	"github.com/hyperjump/imgembed/internal/service"
)

// encoder is the part of the service the sidecar writer uses.
type encoder interface {
	EncodeImage(ctx context.Context, data []byte) (*service.Result, error)
}

// sidecarWriter keeps a <image>.embedding.json file next to every watched
// image.
type sidecarWriter struct {
	ctx    context.Context
	svc    encoder
	logger *zap.Logger
}

// Changed encodes path and writes its sidecar unless an up to date one
// already exists.
func (s *sidecarWriter) Changed(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("watch read failed", zap.String("path", path), zap.Error(err))
		return
	}
	sidecarPath := contentid.SidecarPath(path)
	if existing, err := cli.ReadSidecar(sidecarPath); err == nil && existing.ContentID == contentid.ContentID(data) {
		s.logger.Debug("sidecar up to date", zap.String("path", path))
		return
	}

	res, err := s.svc.EncodeImage(s.ctx, data)
	if err != nil {
		kind := service.Classify(err)
		if kind == service.KindCanceled {
			return
		}
		s.logger.Warn("watch encode failed",
			zap.String("path", path),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return
	}
	sc := &models.Sidecar{
		Source:     path,
		ContentID:  res.ContentID,
		Model:      res.ModelID,
		Device:     res.Device,
		Dimensions: res.Dimensions,
		Vector:     res.Vector,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := cli.WriteSidecar(sidecarPath, sc); err != nil {
		s.logger.Warn("watch sidecar write failed", zap.String("path", sidecarPath), zap.Error(err))
		return
	}
	s.logger.Info("embedded image", zap.String("path", path), zap.Bool("cached", res.Cached))
}

// Removed deletes the sidecar of a removed image.
func (s *sidecarWriter) Removed(path string) {
	sidecarPath := contentid.SidecarPath(path)
	if err := os.Remove(sidecarPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("watch sidecar remove failed", zap.String("path", sidecarPath), zap.Error(err))
		return
	}
	s.logger.Debug("sidecar removed", zap.String("path", sidecarPath))
}
