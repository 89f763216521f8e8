package dto

import "errors"

// ErrorCode 下发给客户端的错误码
type ErrorCode string

// 校验类错误：拒绝该动作，状态不变
const (
	CodeInvalidTile   ErrorCode = "invalidTile"
	CodeInvalidMeld   ErrorCode = "invalidMeld"
	CodeInvalidAction ErrorCode = "invalidAction"
)

// 状态类错误：拒绝
const (
	CodeWrongPhase      ErrorCode = "wrongPhase"
	CodeNotYourTurn     ErrorCode = "notYourTurn"
	CodeNoSuchRoom      ErrorCode = "noSuchRoom"
	CodeRoomFull        ErrorCode = "roomFull"
	CodeAlreadyInRoom   ErrorCode = "alreadyInRoom"
	CodeRoomIDExhausted ErrorCode = "roomIdExhausted"
)

// 认证/会话类错误：可能断开连接
const (
	CodeAuthFailed  ErrorCode = "authFailed"
	CodeReplaced    ErrorCode = "replaced"
	CodeRateLimited ErrorCode = "rateLimited"
)

// 恢复类错误：提示客户端重新加入
const (
	CodeReconnectExpired    ErrorCode = "reconnectExpired"
	CodeSnapshotUnavailable ErrorCode = "snapshotUnavailable"
	CodeTokenInvalid        ErrorCode = "tokenInvalid"
	CodeNotAMember          ErrorCode = "notAMember"
	CodeRecordNotFound      ErrorCode = "recordNotFound"
)

// 内部错误：带关联 ID 记日志，对客户端只给通用信息
const CodeInternal ErrorCode = "internal"

// GameError 引擎返回的带码错误
type GameError struct {
	Code    ErrorCode
	Message string
}

func (e *GameError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func NewGameError(code ErrorCode, message string) *GameError {
	return &GameError{Code: code, Message: message}
}

// CodeOf 提取错误里的错误码，非 GameError 一律归为 internal
func CodeOf(err error) ErrorCode {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// 会话/连接相关错误
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendChanFull     = errors.New("send channel full")
	ErrSessionNotFound  = errors.New("session not found")
)

// 存储相关错误
var (
	ErrSnapshotStale    = errors.New("snapshot version stale")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRecordNotFound   = errors.New("game record not found")
	ErrMongodb          = errors.New("mongodb operation failed")
)
