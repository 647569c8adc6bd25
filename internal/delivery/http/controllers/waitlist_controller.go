package controllers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"waitlistgate/internal/delivery/http/helpers"
	"waitlistgate/internal/domain"
)

// JoinRequest is the request body for POST /waitlist
type JoinRequest struct {
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Handle       string   `json:"handle"`
	StartupName  string   `json:"startup_name"`
	StartupStage string   `json:"startup_stage"`
	City         string   `json:"city"`
	Links        []string `json:"links"`
}

// Validate implements Validator.
func (j JoinRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(j.Email) == "" {
		errs = append(errs, "email is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		errs = append(errs, "name is required")
	}
	return errs
}

// JoinResponse is the response body for POST /waitlist
type JoinResponse struct {
	Entry           *domain.WaitlistEntry `json:"entry"`
	Position        int64                 `json:"position"`
	DisplayPosition int64                 `json:"display_position"`
}

// CountResponse is the response body for GET /waitlist/count
type CountResponse struct {
	Count        int64 `json:"count"`
	DisplayCount int64 `json:"display_count"`
	Stale        bool  `json:"stale"`
}

// PositionResponse is the response body for GET /waitlist/{entryID}/position
type PositionResponse struct {
	Rank            int64 `json:"rank"`
	DisplayPosition int64 `json:"display_position"`
}

// HandleResponse is the response body for GET /waitlist/handles/{handle}
type HandleResponse struct {
	Available bool `json:"available"`
}

// ActivateRequest is the request body for POST /activate
type ActivateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate implements Validator.
func (a ActivateRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(a.Token) == "" {
		errs = append(errs, "token is required")
	}
	if a.Password == "" {
		errs = append(errs, "password is required")
	}
	return errs
}

// JoinSuccessResponse is the success envelope for POST /waitlist (201).
type JoinSuccessResponse struct {
	Data  JoinResponse      `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// CountSuccessResponse is the success envelope for GET /waitlist/count (200).
type CountSuccessResponse struct {
	Data  CountResponse     `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// PositionSuccessResponse is the success envelope for GET /waitlist/{entryID}/position (200).
type PositionSuccessResponse struct {
	Data  PositionResponse  `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// HandleSuccessResponse is the success envelope for GET /waitlist/handles/{handle} (200).
type HandleSuccessResponse struct {
	Data  HandleResponse    `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// ActivateSuccessResponse is the success envelope for POST /activate (200).
type ActivateSuccessResponse struct {
	Data  *domain.Activation `json:"data"`
	Error *helpers.APIError  `json:"error"`
}

// WaitlistController handles the public waitlist and activation endpoints.
type WaitlistController struct {
	Logger  *slog.Logger
	Service domain.WaitlistService
	// DisplayOffset is added to ranks and counts for presentation only.
	DisplayOffset int64
}

// NewWaitlistController creates a WaitlistController with the given logger, service, and display offset.
func NewWaitlistController(logger *slog.Logger, svc domain.WaitlistService, displayOffset int64) *WaitlistController {
	return &WaitlistController{
		Logger:        logger,
		Service:       svc,
		DisplayOffset: displayOffset,
	}
}

// Join godoc
// @Summary Join the waitlist
// @Description Create a pending waitlist entry. Email is normalized to lowercase; handle is optional and must match ^[a-z0-9_]{3,30}$.
// @Tags waitlist
// @Accept json
// @Produce json
// @Param body body JoinRequest true "Applicant data"
// @Success 201 {object} controllers.JoinSuccessResponse "data contains the entry and its position"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Failure 429 {object} helpers.APIResponse "error.code: rate_limited"
// @Failure 503 {object} helpers.APIResponse "error.code: unavailable"
// @Router /waitlist [post]
func (c *WaitlistController) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	entry, rank, err := c.Service.Join(r.Context(), domain.JoinInput{
		Email:        req.Email,
		Name:         req.Name,
		Handle:       req.Handle,
		StartupName:  req.StartupName,
		StartupStage: req.StartupStage,
		City:         req.City,
		Links:        req.Links,
	})
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	resp := JoinResponse{Entry: entry, Position: rank}
	if rank > 0 {
		resp.DisplayPosition = rank + c.DisplayOffset
	}
	helpers.WriteJSONSuccess(w, http.StatusCreated, resp)
}

// Count godoc
// @Summary Get the waitlist size
// @Description Cached aggregate count. stale is true when the backing store failed and the last known value is served.
// @Tags waitlist
// @Produce json
// @Success 200 {object} controllers.CountSuccessResponse "data contains the count"
// @Failure 503 {object} helpers.APIResponse "error.code: unavailable"
// @Router /waitlist/count [get]
func (c *WaitlistController) Count(w http.ResponseWriter, r *http.Request) {
	res, err := c.Service.Count(r.Context())
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, CountResponse{
		Count:        res.Value,
		DisplayCount: res.Value + c.DisplayOffset,
		Stale:        res.Stale,
	})
}

// Position godoc
// @Summary Get an entry's position
// @Description 1-based rank by join time, plus a presentation offset in display_position.
// @Tags waitlist
// @Produce json
// @Param entryID path string true "Entry ID (UUID)"
// @Success 200 {object} controllers.PositionSuccessResponse "data contains rank and display_position"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 429 {object} helpers.APIResponse "error.code: rate_limited"
// @Router /waitlist/{entryID}/position [get]
func (c *WaitlistController) Position(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathUUID(w, r, "entryID")
	if !ok {
		return
	}
	rank, err := c.Service.Position(r.Context(), entryID)
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, PositionResponse{Rank: rank, DisplayPosition: rank + c.DisplayOffset})
}

// HandleAvailability godoc
// @Summary Check handle availability
// @Description Returns available=false for taken, reserved, and malformed handles alike.
// @Tags waitlist
// @Produce json
// @Param handle path string true "Handle"
// @Success 200 {object} controllers.HandleSuccessResponse "data.available"
// @Failure 429 {object} helpers.APIResponse "error.code: rate_limited"
// @Router /waitlist/handles/{handle} [get]
func (c *WaitlistController) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	available, err := c.Service.HandleAvailable(r.Context(), r.PathValue("handle"))
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, HandleResponse{Available: available})
}

// Activate godoc
// @Summary Redeem an activation token
// @Description Redeems the single-use token from the activation email and creates the member account.
// @Tags waitlist
// @Accept json
// @Produce json
// @Param body body ActivateRequest true "Token and new password"
// @Success 200 {object} controllers.ActivateSuccessResponse "data contains the entry and session"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: invalid_token or token_expired"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Failure 429 {object} helpers.APIResponse "error.code: rate_limited"
// @Router /activate [post]
func (c *WaitlistController) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	activation, err := c.Service.Activate(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(c.Logger, w, r, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, activation)
}

func parseUUID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
