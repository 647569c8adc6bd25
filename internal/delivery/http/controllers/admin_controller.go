package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"waitlistgate/internal/delivery/http/helpers"
	"waitlistgate/internal/domain"
)

// ListEntriesResponse is the response body for GET /admin/waitlist
type ListEntriesResponse struct {
	Items      []*domain.WaitlistEntry `json:"items"`
	Pagination helpers.PaginationMeta  `json:"pagination"`
}

// ListEntriesSuccessResponse is the success envelope for GET /admin/waitlist (200).
type ListEntriesSuccessResponse struct {
	Data  ListEntriesResponse `json:"data"`
	Error *helpers.APIError   `json:"error"`
}

// ApprovalSuccessResponse is the envelope for approve and reissue (200 or 202).
type ApprovalSuccessResponse struct {
	Data  *domain.Approval  `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// AdminController handles operator endpoints. Routes are wrapped with RequireAuth and RequireRole(admin).
type AdminController struct {
	Logger  *slog.Logger
	Service domain.WaitlistService
}

// NewAdminController creates an AdminController with the given logger and service.
func NewAdminController(logger *slog.Logger, svc domain.WaitlistService) *AdminController {
	return &AdminController{Logger: logger, Service: svc}
}

// List godoc
// @Summary List waitlist entries
// @Description Entries in join order, optionally filtered by status.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved, or activated"
// @Param page query int false "Page (default 1)"
// @Param page_size query int false "Page size (default 50, max 200)"
// @Success 200 {object} controllers.ListEntriesSuccessResponse "data contains items and pagination"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Router /admin/waitlist [get]
func (c *AdminController) List(w http.ResponseWriter, r *http.Request) {
	params := helpers.ParsePagination(r)
	status := domain.EntryStatus(r.URL.Query().Get("status"))
	entries, total, err := c.Service.List(r.Context(), status, params)
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, ListEntriesResponse{
		Items:      entries,
		Pagination: helpers.NewPaginationMeta(params, total),
	})
}

// Approve godoc
// @Summary Approve an entry
// @Description Moves a pending entry to approved and emails an activation link valid for 7 days. Answers 202 with notification_sent=false when the approval committed but the email failed; use reissue to resend.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID (UUID)"
// @Success 200 {object} controllers.ApprovalSuccessResponse "approved and notified"
// @Success 202 {object} controllers.ApprovalSuccessResponse "approved, notification failed"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Router /admin/waitlist/{entryID}/approve [post]
func (c *AdminController) Approve(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathUUID(w, r, "entryID")
	if !ok {
		return
	}
	approval, err := c.Service.Approve(r.Context(), entryID)
	c.writeApproval(w, r, approval, err)
}

// Reissue godoc
// @Summary Reissue an activation token
// @Description Replaces the token of an approved entry and re-sends the activation email. The previous token stops working.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID (UUID)"
// @Success 200 {object} controllers.ApprovalSuccessResponse "token replaced and notified"
// @Success 202 {object} controllers.ApprovalSuccessResponse "token replaced, notification failed"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Router /admin/waitlist/{entryID}/reissue [post]
func (c *AdminController) Reissue(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathUUID(w, r, "entryID")
	if !ok {
		return
	}
	approval, err := c.Service.ReissueToken(r.Context(), entryID)
	c.writeApproval(w, r, approval, err)
}

func (c *AdminController) writeApproval(w http.ResponseWriter, r *http.Request, approval *domain.Approval, err error) {
	switch {
	case err == nil:
		helpers.WriteJSONSuccess(w, http.StatusOK, approval)
	case errors.Is(err, domain.ErrNotificationFailed) && approval != nil:
		c.Logger.WarnContext(r.Context(), "approval committed without notification", "entry_id", approval.EntryID, "err", err)
		helpers.WriteJSONSuccess(w, http.StatusAccepted, approval)
	default:
		writeServiceError(c.Logger, w, r, err)
	}
}
