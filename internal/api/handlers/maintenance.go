package handlers

import (
	"errors"
	"net/http"

	"odometer-backend/internal/models"
	"odometer-backend/internal/services"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// TripStatusSource reports the caller's session so live distance can be
// included in the due evaluation.
type TripStatusSource interface {
	Status(userID string) (services.SessionSnapshot, error)
}

type MaintenanceHandler struct {
	maintenanceService *services.MaintenanceService
	vehicleService     *services.VehicleService
	trips              TripStatusSource
}

func NewMaintenanceHandler(maintenanceService *services.MaintenanceService, vehicleService *services.VehicleService, trips TripStatusSource) *MaintenanceHandler {
	return &MaintenanceHandler{
		maintenanceService: maintenanceService,
		vehicleService:     vehicleService,
		trips:              trips,
	}
}

type SaveReminderRequest struct {
	Months int  `json:"months"`
	Custom bool `json:"custom"`
}

// GetItems lists the maintenance catalog
func (h *MaintenanceHandler) GetItems(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Maintenance items retrieved successfully", h.maintenanceService.Items())
}

// SaveReminder sets the reminder policy for one item on a vehicle. Months 0
// without custom turns the reminder off.
func (h *MaintenanceHandler) SaveReminder(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req SaveReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	vehicleID := c.Param("id")
	if !h.ownsVehicle(c, userID, vehicleID) {
		return
	}

	policy := models.ReminderPolicy{Months: req.Months, Custom: req.Custom}
	status, err := h.maintenanceService.SavePolicy(c.Request.Context(), vehicleID, c.Param("itemId"), policy)
	if err != nil {
		if errors.Is(err, services.ErrReminderScheduleFailed) {
			utils.WarningResponse(c, http.StatusAccepted, "Reminder saved, scheduling failed", status, err)
			return
		}
		respondError(c, "Failed to save reminder", err)
		return
	}

	if status == nil {
		utils.SuccessResponse(c, http.StatusOK, "Reminder removed", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Reminder saved", status)
}

// GetMaintenanceStatus evaluates every item with a policy. When the caller is
// tracking this vehicle the live trip distance is included.
func (h *MaintenanceHandler) GetMaintenanceStatus(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	vehicleID := c.Param("id")
	if !h.ownsVehicle(c, userID, vehicleID) {
		return
	}

	statuses, err := h.maintenanceService.Evaluate(c.Request.Context(), vehicleID, h.liveTripKm(userID, vehicleID))
	if err != nil {
		respondError(c, "Failed to evaluate maintenance", err)
		return
	}
	if statuses == nil {
		statuses = []models.ItemStatus{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Maintenance status retrieved successfully", statuses)
}

// EvaluateReminders runs the distance check against the committed odometer
// and fires reminders that are due.
func (h *MaintenanceHandler) EvaluateReminders(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	vehicleID := c.Param("id")
	if !h.ownsVehicle(c, userID, vehicleID) {
		return
	}

	statuses, err := h.maintenanceService.EvaluateAndNotify(c.Request.Context(), vehicleID)
	if err != nil {
		if errors.Is(err, services.ErrReminderScheduleFailed) {
			utils.WarningResponse(c, http.StatusAccepted, "Evaluated, reminder scheduling failed", statuses, err)
			return
		}
		respondError(c, "Failed to evaluate reminders", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Reminders evaluated", statuses)
}

func (h *MaintenanceHandler) ownsVehicle(c *gin.Context, userID, vehicleID string) bool {
	if _, err := h.vehicleService.GetVehicle(c.Request.Context(), userID, vehicleID); err != nil {
		respondError(c, "Vehicle not found", err)
		return false
	}
	return true
}

func (h *MaintenanceHandler) liveTripKm(userID, vehicleID string) float64 {
	if h.trips == nil {
		return 0
	}
	snapshot, err := h.trips.Status(userID)
	if err != nil || snapshot.VehicleID != vehicleID || snapshot.State.Terminal() {
		return 0
	}
	return snapshot.TripDistanceKm
}
