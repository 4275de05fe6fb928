package handlers

import (
	"log"
	"net/http"
	"time"

	"odometer-backend/pkg/telemetry"
	"odometer-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
)

// SampleHandler feeds device location samples and permission changes into
// the user's sampler.
type SampleHandler struct {
	feeds    *telemetry.FeedRegistry
	upgrader *gws.Upgrader
}

func NewSampleHandler(feeds *telemetry.FeedRegistry, upgrader *gws.Upgrader) *SampleHandler {
	return &SampleHandler{
		feeds:    feeds,
		upgrader: upgrader,
	}
}

// Device message types
const (
	DeviceMessageSample     = "sample"
	DeviceMessagePermission = "permission"
)

// DeviceMessage is one frame from the device stream.
type DeviceMessage struct {
	Type    string            `json:"type"`
	Sample  *telemetry.Sample `json:"sample,omitempty"`
	Granted *bool             `json:"granted,omitempty"`
}

type PushSamplesRequest struct {
	Samples []telemetry.Sample `json:"samples"`
}

type PushSamplesResponse struct {
	Received  int `json:"received"`
	Delivered int `json:"delivered"`
}

type PermissionRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

// HandleDeviceStream upgrades the device connection and publishes every
// sample frame to the caller's feed until the connection closes.
func (h *SampleHandler) HandleDeviceStream(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade device connection for user %s: %v", userID, err)
		return
	}
	defer conn.Close()

	feed := h.feeds.Feed(userID)
	log.Printf("Device stream connected for user %s", userID)

	for {
		var msg DeviceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
				log.Printf("Device stream error for user %s: %v", userID, err)
			}
			return
		}

		if errMsg := h.apply(feed, msg); errMsg != "" {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(gin.H{"type": "error", "message": errMsg}); err != nil {
				return
			}
		}
	}
}

func (h *SampleHandler) apply(feed *telemetry.Feed, msg DeviceMessage) string {
	switch msg.Type {
	case DeviceMessageSample:
		if msg.Sample == nil {
			return "sample frame without sample"
		}
		feed.Publish(*msg.Sample)
	case DeviceMessagePermission:
		if msg.Granted == nil {
			return "permission frame without granted"
		}
		feed.SetPermission(*msg.Granted)
	default:
		return "unknown message type " + msg.Type
	}
	return ""
}

// PushSamples publishes a batch of samples posted over HTTP, in order.
// Delivered counts the samples an active trip received.
func (h *SampleHandler) PushSamples(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req PushSamplesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if len(req.Samples) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "At least one sample is required", nil)
		return
	}

	feed := h.feeds.Feed(userID)
	resp := PushSamplesResponse{Received: len(req.Samples)}
	for _, sample := range req.Samples {
		if feed.Publish(sample) {
			resp.Delivered++
		}
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Samples received", resp)
}

// SetPermission records whether the device granted location access.
func (h *SampleHandler) SetPermission(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		return
	}

	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	h.feeds.Feed(userID).SetPermission(*req.Granted)
	utils.SuccessResponse(c, http.StatusOK, "Location permission updated", gin.H{"granted": *req.Granted})
}
