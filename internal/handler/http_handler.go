package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tripconnect/messaging-service/internal/audit"
	"github.com/tripconnect/messaging-service/internal/domain"
	"github.com/tripconnect/messaging-service/internal/pipeline"
	"github.com/tripconnect/messaging-service/internal/rooms"
	"github.com/tripconnect/messaging-service/pkg/jwt"
	"github.com/tripconnect/messaging-service/pkg/middleware"
	"github.com/tripconnect/messaging-service/pkg/response"
	"github.com/tripconnect/messaging-service/pkg/storage"
)

// HTTPHandler is the REST companion to the websocket surface: room
// management, history reads and attachment blobs.
type HTTPHandler struct {
	directory rooms.Directory
	pipeline  pipeline.Pipeline
	store     storage.AttachmentStore
	validator *jwt.Validator
}

func NewHTTPHandler(directory rooms.Directory, pl pipeline.Pipeline, store storage.AttachmentStore, validator *jwt.Validator) *HTTPHandler {
	return &HTTPHandler{
		directory: directory,
		pipeline:  pl,
		store:     store,
		validator: validator,
	}
}

// RegisterRoutes mounts the REST API.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1", middleware.Auth(h.validator))
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:id", h.GetRoom)
		api.PATCH("/rooms/:id", h.UpdateRoom)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.POST("/rooms/:id/participants", h.AddParticipant)
		api.DELETE("/rooms/:id/participants/:userId", h.RemoveParticipant)
		api.POST("/rooms/:id/read", h.MarkRead)
		api.GET("/rooms/:id/messages", h.History)
		api.POST("/attachments", h.UploadAttachment)
		api.GET("/attachments/:key", h.AttachmentURL)
	}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRoomRequest struct {
	Name         string               `json:"name" binding:"required"`
	Type         domain.RoomType      `json:"type" binding:"required"`
	Participants []participantRequest `json:"participants"`
	Settings     *domain.RoomSettings `json:"settings"`
}

type participantRequest struct {
	UserID string      `json:"user_id" binding:"required"`
	Role   domain.Role `json:"role"`
}

func (h *HTTPHandler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	specs := make([]rooms.ParticipantSpec, 0, len(req.Participants))
	for _, p := range req.Participants {
		specs = append(specs, rooms.ParticipantSpec{UserID: p.UserID, Role: p.Role})
	}

	room, err := h.directory.Create(c.Request.Context(), middleware.UserID(c), rooms.CreateRequest{
		Name:         req.Name,
		Type:         req.Type,
		Participants: specs,
		Settings:     req.Settings,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	audit.LogWithTarget(c.Request.Context(), audit.ActionCreateRoom, middleware.UserID(c), room.ID, "room created")
	response.Created(c, room)
}

func (h *HTTPHandler) GetRoom(c *gin.Context) {
	room, err := h.directory.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, room)
}

type updateRoomRequest struct {
	Name     *string              `json:"name"`
	Settings *domain.RoomSettings `json:"settings"`
}

func (h *HTTPHandler) UpdateRoom(c *gin.Context) {
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.directory.Update(c.Request.Context(), c.Param("id"), middleware.UserID(c), rooms.Patch{
		Name:     req.Name,
		Settings: req.Settings,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	audit.LogWithTarget(c.Request.Context(), audit.ActionUpdateRoom, middleware.UserID(c), room.ID, "room updated")
	response.Success(c, room)
}

func (h *HTTPHandler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := h.directory.Delete(c.Request.Context(), roomID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}

	audit.LogWithTarget(c.Request.Context(), audit.ActionDeleteRoom, middleware.UserID(c), roomID, "room deleted")
	response.Success(c, gin.H{"deleted": true})
}

func (h *HTTPHandler) AddParticipant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleMember
	}

	room, err := h.directory.AddParticipant(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.UserID, role)
	if err != nil {
		respondError(c, err)
		return
	}

	audit.LogWithTarget(c.Request.Context(), audit.ActionAddParticipant, middleware.UserID(c), req.UserID, "participant added")
	response.Success(c, room)
}

func (h *HTTPHandler) RemoveParticipant(c *gin.Context) {
	userID := c.Param("userId")

	room, err := h.directory.RemoveParticipant(c.Request.Context(), c.Param("id"), middleware.UserID(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	audit.LogWithTarget(c.Request.Context(), audit.ActionRemoveParticipant, middleware.UserID(c), userID, "participant removed")
	response.Success(c, room)
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	if err := h.directory.MarkRead(c.Request.Context(), c.Param("id"), middleware.UserID(c), time.Now()); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"read": true})
}

func (h *HTTPHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	msgs, err := h.pipeline.History(c.Request.Context(), c.Param("id"), middleware.UserID(c), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{
		"messages": msgs,
		"page":     page,
		"count":    len(msgs),
	})
}

const maxAttachmentSize = 25 << 20 // 25 MiB

func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "multipart file field is required")
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentSize {
		response.BadRequest(c, fmt.Sprintf("attachment exceeds %d bytes", int64(maxAttachmentSize)))
		return
	}

	contentType := header.Header.Get("Content-Type")
	key := uuid.New().String()

	if err := h.store.Write(c.Request.Context(), key, file, header.Size, contentType); err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, domain.Attachment{
		Key:         key,
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	})
}

func (h *HTTPHandler) AttachmentURL(c *gin.Context) {
	key := c.Param("key")

	exists, err := h.store.Exists(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		response.NotFound(c, "attachment not found")
		return
	}

	url, err := h.store.URL(c.Request.Context(), key, 15*time.Minute)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

// respondError maps a service error onto the HTTP envelope.
func respondError(c *gin.Context, err error) {
	appErr, ok := domain.AsError(err)
	if !ok {
		response.InternalError(c, "")
		return
	}

	switch appErr.Kind {
	case domain.KindValidation:
		response.BadRequest(c, appErr.Message)
	case domain.KindAuthorization:
		response.Forbidden(c, appErr.Message)
	case domain.KindNotFound:
		response.NotFound(c, appErr.Message)
	case domain.KindConflict:
		response.Conflict(c, appErr.Message)
	case domain.KindRateLimit:
		response.ErrorWithInfo(c, http.StatusTooManyRequests, &response.ErrorInfo{
			Code:       appErr.Code,
			Message:    appErr.Message,
			RetryAfter: int(appErr.RetryAfter.Seconds() + 0.5),
		})
	default:
		response.InternalError(c, appErr.CorrelationID)
	}
}
