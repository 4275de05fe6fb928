package handlers

import (
	"net/http"

	"odometer-backend/internal/services"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type TripHandler struct {
	tripService *services.TripService
	validator   *validator.Validate
}

func NewTripHandler(tripService *services.TripService) *TripHandler {
	return &TripHandler{
		tripService: tripService,
		validator:   validator.New(),
	}
}

type StartTripRequest struct {
	VehicleID string `json:"vehicleId" validate:"required"`
}

// StopTripResponse carries the saved trip plus any reminder failure. The trip
// stays saved when reminders fail.
type StopTripResponse struct {
	*services.StopResult
	ReminderError string `json:"reminderError,omitempty"`
}

// StartTrip begins tracking for the selected vehicle
func (h *TripHandler) StartTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	snapshot, err := h.tripService.Start(c.Request.Context(), userID, req.VehicleID)
	if err != nil {
		respondError(c, "Failed to start trip", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Trip started", snapshot)
}

func (h *TripHandler) PauseTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	snapshot, err := h.tripService.Pause(userID)
	if err != nil {
		respondError(c, "Failed to pause trip", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Trip paused", snapshot)
}

func (h *TripHandler) ResumeTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	snapshot, err := h.tripService.Resume(userID)
	if err != nil {
		respondError(c, "Failed to resume trip", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Trip resumed", snapshot)
}

// StopTrip saves the trip and applies it to the odometer. A 503 means the
// save can be retried with the same call.
func (h *TripHandler) StopTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	result, err := h.tripService.Stop(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "Failed to save trip", err)
		return
	}

	resp := StopTripResponse{StopResult: result}
	if result.ReminderErr != nil {
		resp.ReminderError = result.ReminderErr.Error()
		utils.WarningResponse(c, http.StatusOK, "Trip saved, reminder scheduling failed", resp, result.ReminderErr)
		return
	}

	message := "Trip saved"
	if result.AlreadySaved {
		message = "Trip already saved"
	}
	utils.SuccessResponse(c, http.StatusOK, message, resp)
}

func (h *TripHandler) CancelTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	if err := h.tripService.Cancel(userID); err != nil {
		respondError(c, "Failed to cancel trip", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Trip discarded", nil)
}

// GetCurrentTrip returns the caller's most recent session
func (h *TripHandler) GetCurrentTrip(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	snapshot, err := h.tripService.Status(userID)
	if err != nil {
		respondError(c, "No trip found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Trip retrieved successfully", snapshot)
}
