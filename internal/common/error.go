package common

import (
	"errors"
	"fmt"
)

// ErrNo is the error shape the HTTP API reports in its envelope.
type ErrNo struct {
	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const (
	SuccessCode = 0
	ServiceErr  = iota + 10000
	RequestInvalid
	TokenInvalid
	PasswordErr
	UserNotExists
	YamlInvalid
	ConfigInvalid
	PipelineNotExists
	PipelineExists
	PipelineStartFail
	RunNotExists
	RunCancelFail
	WebhookInvalid
	PermissionDenied
)

var errorMsg = map[int]string{
	SuccessCode:       "success",
	ServiceErr:        "service error",
	RequestInvalid:    "request invalid",
	TokenInvalid:      "token invalid",
	PasswordErr:       "password error",
	UserNotExists:     "user not exists",
	YamlInvalid:       "yaml invalid",
	ConfigInvalid:     "pipeline config invalid",
	PipelineNotExists: "pipeline not exists",
	PipelineExists:    "pipeline already exists",
	PipelineStartFail: "pipeline starts fail",
	RunNotExists:      "run not exists",
	RunCancelFail:     "run cannot be cancelled",
	WebhookInvalid:    "webhook invalid",
	PermissionDenied:  "permission denied",
}

func (e ErrNo) Error() string {
	return fmt.Sprintf("err_code=%d, err_msg=%s", e.ErrCode, e.ErrMsg)
}

func NewErrNo(errCode int) error {
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  errorMsg[errCode],
	}
}

// WrapErrNo keeps the code but appends detail, e.g. which step failed validation.
func WrapErrNo(errCode int, detail error) error {
	if detail == nil {
		return NewErrNo(errCode)
	}
	return ErrNo{
		ErrCode: errCode,
		ErrMsg:  fmt.Sprintf("%s: %v", errorMsg[errCode], detail),
	}
}

func ConvertErr(err error) ErrNo {
	e := ErrNo{}
	if errors.As(err, &e) {
		return e
	}
	e = ErrNo{
		ErrCode: ServiceErr,
		ErrMsg:  err.Error(),
	}
	return e
}
