package routes

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/clipcache/clipcache/internal/preload"
	"github.com/clipcache/clipcache/internal/source"
)

// windowPayload 是 PUT /-/window 的请求体；previous/next 允许为 null 表示清空槽位。
type windowPayload struct {
	Previous *preload.Item `json:"previous"`
	Current  *preload.Item `json:"current"`
	Next     *preload.Item `json:"next"`
}

// RegisterWindowRoutes 暴露预加载窗口的推进与查询接口。
func RegisterWindowRoutes(app *fiber.App, window *preload.Window, sources *source.Registry, logger *logrus.Logger) {
	if app == nil || window == nil {
		return
	}

	app.Put("/-/window", func(c fiber.Ctx) error {
		var payload windowPayload
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body_invalid"})
		}

		for _, item := range []*preload.Item{payload.Previous, payload.Current, payload.Next} {
			if item == nil {
				continue
			}
			if item.Identifier == "" || item.URL == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "item_incomplete"})
			}
			if _, ok := sources.Lookup(item.URL); !ok {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"action":     "window_advance",
						"identifier": item.Identifier,
						"url":        item.URL,
					}).Warn("origin not allowed")
				}
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "origin_not_allowed"})
			}
		}

		err := window.SetWindow(requestContext(c), preload.Request{
			Previous: payload.Previous,
			Current:  payload.Current,
			Next:     payload.Next,
		})
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"result": "accepted"})
	})

	app.Get("/-/window/:position", func(c fiber.Ctx) error {
		position, ok := preload.ParsePosition(c.Params("position"))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "position_invalid"})
		}

		info, ok := window.SlotInfo(position)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "slot_empty"})
		}

		payload := fiber.Map{
			"position":   string(info.Position),
			"identifier": info.Identifier,
			"state":      string(info.State),
		}
		if info.State == preload.StateReady {
			payload["handle"] = info.Handle
		}
		if info.Err != nil {
			payload["error"] = info.Err.Error()
		}
		return c.JSON(payload)
	})
}
