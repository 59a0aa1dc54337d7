package handler

import (
	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/dao"
	"github.com/Kshitijknk07/CicadaCI/internal/server/middleware"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/gin-gonic/gin"
)

func UserLogin(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	user, err := dao.NewUserDAO().GetByUsername(c, req.Username)
	if err != nil {
		common.Error(c, err)
		return
	}
	if !user.CheckPassword(req.Password) {
		common.Error(c, common.NewErrNo(common.PasswordErr))
		return
	}

	token, err := middleware.GenerateJWT(user.Role)
	if err != nil {
		common.Error(c, err)
		return
	}
	c.Header("Authorization", "Bearer "+token)
	common.Success(c, api.LoginResponse{Token: token, Role: user.Role})
}
