package routes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/worker"
)

// Registration 是控制接口依赖的注册表能力，由 worker.Registration 实现。
type Registration interface {
	Active() *worker.Synchronizer
	PostMessage(ctx context.Context, message string) bool
	Status() worker.Status
}

type messagePayload struct {
	Message string `json:"message"`
}

type statusPayload struct {
	worker.Status
	MissingEntries *int `json:"missing_entries,omitempty"`
}

// RegisterControlRoutes 暴露 /-/message 与 /-/status，分别对应页面的 postMessage 与诊断查询。
func RegisterControlRoutes(app *fiber.App, registration Registration, logger *logrus.Logger) {
	if app == nil || registration == nil {
		return
	}

	app.Post("/-/message", func(c fiber.Ctx) error {
		message := parseMessage(c.Get(fiber.HeaderContentType), c.Body())
		if message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message_required"})
		}
		// 消息处理可能启动后台任务，不能绑定在会被复用的请求上下文上。
		accepted := registration.PostMessage(context.Background(), message)
		if logger != nil {
			logger.WithFields(logrus.Fields{"action": "message", "message": message, "accepted": accepted}).Info("message_received")
		}
		// 未识别的消息按忽略处理，仍返回 202。
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": message, "accepted": accepted})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{Status: registration.Status()}
		if active := registration.Active(); active != nil {
			if missing, err := active.MissingPaths(c.Context()); err == nil {
				count := len(missing)
				payload.MissingEntries = &count
			} else if logger != nil {
				logger.WithError(err).WithField("action", "status").Warn("missing_paths_failed")
			}
		}
		return c.JSON(payload)
	})
}

// parseMessage 接受纯文本令牌、JSON 字符串或 {"message": "..."}。
func parseMessage(contentType string, body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) || strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, `"`) {
		var payload messagePayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.Message != "" {
			return strings.TrimSpace(payload.Message)
		}
		var token string
		if err := json.Unmarshal([]byte(raw), &token); err == nil {
			return strings.TrimSpace(token)
		}
	}
	return raw
}
