package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/clipcache/clipcache/internal/cache"
	"github.com/clipcache/clipcache/internal/source"
)

// RegisterCacheRoutes 暴露 /-/stats 与 /-/cache 诊断接口，供 SRE 观察与清理缓存。
func RegisterCacheRoutes(app *fiber.App, store cache.Store, sources *source.Registry, logger *logrus.Logger) {
	if app == nil || store == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		stats, err := store.Snapshot(requestContext(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "snapshot_failed"})
		}
		return c.JSON(fiber.Map{
			"cache":   stats,
			"sources": encodeSources(sources),
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		err := store.Clear(requestContext(c))
		if err != nil {
			// 清理是尽力而为：部分失败照常上报，但已删除的条目不会回滚。
			if logger != nil {
				logger.WithField("action", "cache_clear").Warn(err.Error())
			}
			return c.JSON(fiber.Map{
				"result": "partial_failure",
				"detail": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"result": "ok"})
	})
}

type sourcePayload struct {
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	AuthMode string `json:"auth_mode"`
}

func encodeSources(sources *source.Registry) []sourcePayload {
	if sources == nil {
		return nil
	}
	routes := sources.List()
	payload := make([]sourcePayload, len(routes))
	for i, route := range routes {
		payload[i] = sourcePayload{
			Name:     route.Config.Name,
			Origin:   route.Config.Origin,
			AuthMode: route.Config.AuthMode(),
		}
	}
	return payload
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
