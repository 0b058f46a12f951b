package routes

import (
	"context"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/lifecycle"
	"github.com/asset-hub/asset-hub/internal/store"
)

// ControlHandler 接收控制消息；lifecycle.Manager 即为生产实现。
type ControlHandler interface {
	HandleMessage(ctx context.Context, messageType string) error
}

// controlMessage 是 POST /-/control 的请求体。
type controlMessage struct {
	Type string `json:"type"`
}

// RegisterControlRoutes 暴露 /-/control 控制通道。已知消息一律回 202：
// 控制命令是 fire-and-forget 的，内部错误不跨边界上抛。
func RegisterControlRoutes(app *fiber.App, control ControlHandler, logger *logrus.Logger) {
	if app == nil || control == nil {
		return
	}

	app.Post("/-/control", func(c fiber.Ctx) error {
		var msg controlMessage
		if err := c.Bind().Body(&msg); err != nil || msg.Type == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message_type_required"})
		}

		if err := control.HandleMessage(c.Context(), msg.Type); err != nil {
			if errors.Is(err, lifecycle.ErrUnknownMessage) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_message_type"})
			}
			logger.WithFields(logrus.Fields{
				"action": "control_message",
				"type":   msg.Type,
			}).WithError(err).Warn("control_message_failed")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": msg.Type})
	})
}

// RegisterStoreRoutes 暴露 /-/stores 与 /-/healthz 诊断接口。
func RegisterStoreRoutes(app *fiber.App, s store.Store, version string) {
	if app == nil || s == nil {
		return
	}

	app.Get("/-/stores", func(c fiber.Ctx) error {
		buckets, err := s.Buckets(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_enumerate_failed"})
		}
		sort.Strings(buckets)

		stats := make([]store.BucketStats, 0, len(buckets))
		for _, bucket := range buckets {
			info, err := s.BucketInfo(c.Context(), bucket)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_stat_failed"})
			}
			stats = append(stats, info)
		}

		return c.JSON(fiber.Map{
			"version": version,
			"stores":  stats,
		})
	})

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version})
	})
}
