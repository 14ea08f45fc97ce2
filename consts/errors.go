package consts

import "errors"

var (
	ErrPoolUnavailable = errors.New("database pool unavailable")
	ErrManagerClosed   = errors.New("pool manager closed")
	ErrReportNotFound  = errors.New("report not found")
)
