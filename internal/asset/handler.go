package asset

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/clipcache/clipcache/internal/cache"
	"github.com/clipcache/clipcache/internal/logging"
	"github.com/clipcache/clipcache/internal/server"
	"github.com/clipcache/clipcache/internal/source"
)

// Handler 负责 orchestrate「来源校验 → 缓存命中/回源 → 文件流式返回」的全流程，
// 对外暴露 Fiber handler，内部复用共享的磁盘缓存与来源注册表。
type Handler struct {
	store   cache.Store
	sources *source.Registry
	logger  *logrus.Logger
}

// NewHandler constructs an asset handler with shared store/registry/logger.
func NewHandler(store cache.Store, sources *source.Registry, logger *logrus.Logger) *Handler {
	return &Handler{
		store:   store,
		sources: sources,
		logger:  logger,
	}
}

// Handle 执行缓存查找与按需回源，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, identifier string) error {
	started := time.Now()
	requestID := server.RequestID(c)

	rawURL := c.Query("url")
	if rawURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
	}

	route, ok := h.sources.Lookup(rawURL)
	if !ok {
		h.logger.WithFields(logrus.Fields{
			"action":     "asset_fetch",
			"identifier": identifier,
			"url":        rawURL,
			"request_id": requestID,
		}).Warn("origin not allowed")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "origin_not_allowed"})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	hit, err := h.store.Contains(ctx, identifier)
	if err != nil {
		return h.respondError(c, route, identifier, requestID, err)
	}

	path, err := h.store.Fetch(ctx, rawURL, identifier)
	if err != nil {
		return h.respondError(c, route, identifier, requestID, err)
	}

	fields := logging.RequestFields(identifier, route.Config.Name, hit)
	fields["action"] = "asset_fetch"
	fields["request_id"] = requestID
	fields["duration_ms"] = time.Since(started).Milliseconds()
	h.logger.WithFields(fields).Info("asset served")

	if hit {
		c.Set("X-Clip-Cache-Hit", "true")
	} else {
		c.Set("X-Clip-Cache-Hit", "false")
	}
	return c.SendFile(path)
}

func (h *Handler) respondError(c fiber.Ctx, route *source.Route, identifier, requestID string, err error) error {
	fields := logging.RequestFields(identifier, route.Config.Name, false)
	fields["action"] = "asset_fetch"
	fields["request_id"] = requestID
	h.logger.WithFields(fields).Error(err.Error())

	switch {
	case errors.Is(err, cache.ErrInvalidIdentifier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "identifier_invalid"})
	case errors.Is(err, cache.ErrRemoteFetch):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_fetch_failed"})
	case errors.Is(err, cache.ErrStorage):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_failure"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}
