package handlers

import (
	"errors"
	"net/http"

	"odometer-backend/internal/api/middleware"
	"odometer-backend/internal/models"
	"odometer-backend/internal/repository"
	"odometer-backend/internal/services"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrVehicleNotFound),
		errors.Is(err, repository.ErrTripNotFound),
		errors.Is(err, services.ErrNoActiveTrip):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoVehicleSelected),
		errors.Is(err, services.ErrUnknownMaintenanceItem),
		errors.Is(err, services.ErrInvalidPeriod),
		errors.Is(err, models.ErrInvalidReminderPolicy):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrTripAlreadyActive),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, repository.ErrOdometerConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrLocationPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrTripSaveFailed),
		errors.Is(err, services.ErrReminderScheduleFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusFor(err), message, err)
}

// currentUser returns the caller, or writes 401 and returns "".
func currentUser(c *gin.Context) string {
	userID := middleware.UserID(c)
	if userID == "" {
		utils.ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
	}
	return userID
}
