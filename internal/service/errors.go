package service

import (
	"errors"
	"fmt"
)

// 业务层错误。WebSocket 确认消息与 HTTP handler 都基于 errors.Is 做映射。
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("not a member")
	ErrAlreadyMember = errors.New("already a member")
	ErrDuplicateName = errors.New("name already taken")
	ErrValidation    = errors.New("validation failed")
	ErrPersistence   = errors.New("persistence failure")
)

// 对外暴露的错误码。
const (
	CodeNotFound           = "NotFound"
	CodeForbidden          = "Forbidden"
	CodeAlreadyMember      = "AlreadyMember"
	CodeDuplicateName      = "DuplicateName"
	CodeValidationFailed   = "ValidationFailed"
	CodePersistenceFailure = "PersistenceFailure"
)

// Code 将错误映射为错误码；未知错误一律视为存储失败。
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrAlreadyMember):
		return CodeAlreadyMember
	case errors.Is(err, ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, ErrValidation):
		return CodeValidationFailed
	default:
		return CodePersistenceFailure
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
