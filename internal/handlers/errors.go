package handlers

import (
	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/pkg/logger"
	"github.com/docshare/drive/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict:
		return fiber.StatusConflict
	case services.KindQuotaExceeded:
		return fiber.StatusRequestEntityTooLarge
	case services.KindInvalidArgument:
		return fiber.StatusBadRequest
	case services.KindInvalidOperation:
		return fiber.StatusUnprocessableEntity
	case services.KindStorageBackendError:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondServiceError writes the envelope for an error returned by a
// service. Causes are logged, never sent.
func respondServiceError(c *fiber.Ctx, userID uuid.UUID, action string, err error) error {
	kind := services.KindOf(err)
	status := statusForKind(kind)
	if status >= fiber.StatusInternalServerError {
		logger.ErrorWithUser(userID.String(), action+"_failed", err, map[string]interface{}{
			"kind":       kind.String(),
			"request_id": getRequestID(c),
		})
	}
	return utils.ErrorWithCode(c, status, services.PublicMessage(err), kind.String())
}
