package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	dbm "kimi/internal/models/db_models"
	"kimi/pkg/utils"
)

// currentUser reads the caller set by JWTAuthMiddleware. It writes the 401
// itself when the context carries no usable identity.
func currentUser(c *gin.Context) (uuid.UUID, dbm.Role, bool) {
	id, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		utils.RespondError(c, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, "", false
	}
	return id, dbm.Role(c.GetString("Role")), true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
