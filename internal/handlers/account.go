package handlers

import (
	"github.com/docshare/drive/internal/middleware"
	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
)

type AccountHandler struct {
	Ledger *services.QuotaLedger
	Index  *services.SearchIndex
}

func NewAccountHandler(ledger *services.QuotaLedger, index *services.SearchIndex) *AccountHandler {
	return &AccountHandler{Ledger: ledger, Index: index}
}

type quotaResponse struct {
	services.QuotaState
	QuotaHuman     string `json:"quotaHuman"`
	UsedHuman      string `json:"usedHuman"`
	AvailableHuman string `json:"availableHuman"`
}

func (h *AccountHandler) Quota(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	state, err := h.Ledger.QuotaState(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "quota_state", err)
	}
	return utils.Success(c, fiber.StatusOK, quotaResponse{
		QuotaState:     state,
		QuotaHuman:     humanize.IBytes(uint64(state.Quota)),
		UsedHuman:      humanize.IBytes(uint64(state.Used)),
		AvailableHuman: humanize.IBytes(uint64(state.Available)),
	})
}

func (h *AccountHandler) Dashboard(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	stats, err := h.Index.DashboardStats(c.UserContext(), currentUser.ID)
	if err != nil {
		return respondServiceError(c, currentUser.ID, "dashboard", err)
	}
	return utils.Success(c, fiber.StatusOK, stats)
}
