package chat

import "errors"

// 领域错误。NotFound 和 Forbidden 是预期内的结果值，
// handler 层据此映射为 404/403。
var (
	ErrNotFound  = errors.New("session not found")
	ErrForbidden = errors.New("not authorized to access this session")
)
