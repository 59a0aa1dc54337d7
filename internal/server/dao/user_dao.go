package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"gorm.io/gorm"
)

type UserDAO interface {
	// create user, password must already be hashed
	Create(ctx context.Context, user *model.User) error
	// get user by username
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// create the user with a hashed password unless it exists
	EnsureUser(ctx context.Context, username, password, role string) (*model.User, error)
}

type userDAO struct {
}

func NewUserDAO() UserDAO {
	return &userDAO{}
}

func (d *userDAO) Create(ctx context.Context, user *model.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (d *userDAO) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.UserNotExists)
		}
		return nil, err
	}
	return &user, nil
}

func (d *userDAO) EnsureUser(ctx context.Context, username, password, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	user, err := d.GetByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if common.ConvertErr(err).ErrCode != common.UserNotExists {
		return nil, err
	}

	hash, err := model.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user = &model.User{Username: username, Password: hash, Role: role}
	if err := d.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
