package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("order: validation failed")
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid transition")
)

// ValidationError 表示调用方输入有误，未产生任何副作用
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError 表示状态机拒绝了一次流转
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s: %s", ErrInvalidTransition, e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// NotFound 构造一个带订单号的 ErrNotFound
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
