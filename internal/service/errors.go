package service

import (
	"errors"
)

var (
	ErrMemberNotActive       = errors.New("会员状态不允许授权")
	ErrInvalidAmount         = errors.New("金额必须大于 0")
	ErrCaptureAmountExceeded = errors.New("请款金额不能超过预授权金额")
)
