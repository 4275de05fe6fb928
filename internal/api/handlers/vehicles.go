package handlers

import (
	"net/http"
	"strconv"
	"time"

	"odometer-backend/internal/models"
	"odometer-backend/internal/services"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	defaultTripLimit = 20
	maxTripLimit     = 200
)

type VehicleHandler struct {
	vehicleService *services.VehicleService
	reconciler     *services.OdometerReconciler
	periodLocation *time.Location
	validator      *validator.Validate
}

func NewVehicleHandler(vehicleService *services.VehicleService, reconciler *services.OdometerReconciler, periodLocation *time.Location) *VehicleHandler {
	if periodLocation == nil {
		periodLocation = time.UTC
	}
	return &VehicleHandler{
		vehicleService: vehicleService,
		reconciler:     reconciler,
		periodLocation: periodLocation,
		validator:      validator.New(),
	}
}

type RebuildOdometerRequest struct {
	BaseOdometer float64 `json:"baseOdometer" validate:"min=0"`
}

// GetVehicles retrieves the caller's vehicles
func (h *VehicleHandler) GetVehicles(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	vehicles, err := h.vehicleService.ListVehicles(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "Failed to retrieve vehicles", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Vehicles retrieved successfully", vehicles)
}

// GetVehicle retrieves a specific vehicle by ID
func (h *VehicleHandler) GetVehicle(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	vehicle, err := h.vehicleService.GetVehicle(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, "Vehicle not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Vehicle retrieved successfully", vehicle)
}

// CreateVehicle registers a new vehicle for the caller
func (h *VehicleHandler) CreateVehicle(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req services.CreateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	vehicle, err := h.vehicleService.CreateVehicle(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, "Failed to create vehicle", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Vehicle created successfully", vehicle)
}

// GetTrips lists the most recent trips of a vehicle
func (h *VehicleHandler) GetTrips(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTripLimit)))
	if err != nil || limit <= 0 {
		limit = defaultTripLimit
	}
	if limit > maxTripLimit {
		limit = maxTripLimit
	}

	trips, err := h.vehicleService.ListTrips(c.Request.Context(), userID, c.Param("id"), limit)
	if err != nil {
		respondError(c, "Failed to retrieve trips", err)
		return
	}
	if trips == nil {
		trips = []*models.Trip{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Trips retrieved successfully", trips)
}

// GetMonthlyDistance returns the distance driven in ?period=YYYY-MM,
// defaulting to the current month.
func (h *VehicleHandler) GetMonthlyDistance(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	period := c.Query("period")
	if period == "" {
		period = models.PeriodKey(time.Now(), h.periodLocation)
	}

	monthly, err := h.vehicleService.MonthlyDistance(c.Request.Context(), userID, c.Param("id"), period)
	if err != nil {
		respondError(c, "Failed to retrieve monthly distance", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Monthly distance retrieved successfully", monthly)
}

// RebuildOdometer recomputes the odometer as baseOdometer plus every stored trip
func (h *VehicleHandler) RebuildOdometer(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req RebuildOdometerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	vehicleID := c.Param("id")
	if _, err := h.vehicleService.GetVehicle(c.Request.Context(), userID, vehicleID); err != nil {
		respondError(c, "Vehicle not found", err)
		return
	}

	odometer, err := h.reconciler.Rebuild(c.Request.Context(), vehicleID, req.BaseOdometer)
	if err != nil {
		respondError(c, "Failed to rebuild odometer", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Odometer rebuilt", gin.H{"vehicleId": vehicleID, "odometer": odometer})
}
