// users.go is the public surface for user mutations: instead of owning
// event rows directly, it publishes the four User-context domain
// events (spec.md §6) onto the bus and lets internal/reactors do the
// scheduling work asynchronously.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pradok/events-scheduler-sub005/internal/bus"
	"github.com/pradok/events-scheduler-sub005/internal/domain/userinfo"
)

// UsersHandler accepts User-context mutations over HTTP and republishes
// them as domain events. It never touches the scheduling store itself.
type UsersHandler struct {
	bus *bus.Bus
}

func NewUsersHandler(b *bus.Bus) *UsersHandler {
	return &UsersHandler{bus: b}
}

type createUserRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	DateOfBirth string `json:"dateOfBirth" binding:"required"` // YYYY-MM-DD
	Timezone    string `json:"timezone" binding:"required"`
}

func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req createUserRequest
	if !BindJSON(ctx, &req) {
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		RespondBadRequest(ctx, "invalid dateOfBirth", gin.H{"reason": "must be YYYY-MM-DD"})
		return
	}

	if _, err := time.LoadLocation(req.Timezone); err != nil {
		RespondBadRequest(ctx, "invalid timezone", gin.H{"reason": "must be a valid IANA zone"})
		return
	}

	userID := uuid.NewString()
	evt := userinfo.UserCreated{
		OccurredAt:  time.Now().UTC(),
		AggregateID: userID,
		UserID:      userID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: dob,
		Timezone:    req.Timezone,
	}

	h.bus.Publish(ctx.Request.Context(), string(userinfo.EventUserCreated), evt)
	slog.Default().InfoContext(ctx.Request.Context(), "users.created", "user_id", userID)

	ctx.JSON(http.StatusCreated, gin.H{"userId": userID})
}

type updateBirthdayRequest struct {
	DateOfBirth string `json:"dateOfBirth" binding:"required"`
}

func (h *UsersHandler) UpdateBirthday(ctx *gin.Context) {
	userID := ctx.Param("id")
	if !uuidOrBadRequest(ctx, userID) {
		return
	}

	var req updateBirthdayRequest
	if !BindJSON(ctx, &req) {
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		RespondBadRequest(ctx, "invalid dateOfBirth", gin.H{"reason": "must be YYYY-MM-DD"})
		return
	}

	evt := userinfo.UserBirthdayChanged{
		OccurredAt:     time.Now().UTC(),
		AggregateID:    userID,
		UserID:         userID,
		NewDateOfBirth: dob,
	}
	h.bus.Publish(ctx.Request.Context(), string(userinfo.EventUserBirthdayChanged), evt)

	ctx.Status(http.StatusAccepted)
}

type updateTimezoneRequest struct {
	Timezone string `json:"timezone" binding:"required"`
}

func (h *UsersHandler) UpdateTimezone(ctx *gin.Context) {
	userID := ctx.Param("id")
	if !uuidOrBadRequest(ctx, userID) {
		return
	}

	var req updateTimezoneRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if _, err := time.LoadLocation(req.Timezone); err != nil {
		RespondBadRequest(ctx, "invalid timezone", gin.H{"reason": "must be a valid IANA zone"})
		return
	}

	evt := userinfo.UserTimezoneChanged{
		OccurredAt:  time.Now().UTC(),
		AggregateID: userID,
		UserID:      userID,
		NewTimezone: req.Timezone,
	}
	h.bus.Publish(ctx.Request.Context(), string(userinfo.EventUserTimezoneChanged), evt)

	ctx.Status(http.StatusAccepted)
}

func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	userID := ctx.Param("id")
	if !uuidOrBadRequest(ctx, userID) {
		return
	}

	evt := userinfo.UserDeleted{
		OccurredAt:  time.Now().UTC(),
		AggregateID: userID,
		UserID:      userID,
	}
	h.bus.Publish(ctx.Request.Context(), string(userinfo.EventUserDeleted), evt)

	ctx.Status(http.StatusNoContent)
}

func uuidOrBadRequest(ctx *gin.Context, id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		RespondBadRequest(ctx, "invalid_id", "id must be a valid UUID")
		return false
	}
	return true
}
