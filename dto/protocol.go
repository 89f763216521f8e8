package dto

import "encoding/json"

// 帧类型
const (
	FrameReq   = "REQ"
	FrameResp  = "RESP"
	FrameEvent = "EVENT"
	FrameError = "ERROR"
)

// Frame 客户端与服务端之间的统一消息帧
type Frame struct {
	Type      string          `json:"type"`
	Cmd       string          `json:"cmd"`
	ReqID     string          `json:"reqId,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 客户端命令
const (
	CmdCreateRoom   = "createRoom"
	CmdJoinRoom     = "joinRoom"
	CmdLeaveRoom    = "leaveRoom"
	CmdReady        = "ready"
	CmdPlay         = "play"
	CmdPeng         = "peng"
	CmdGang         = "gang"
	CmdChi          = "chi"
	CmdHu           = "hu"
	CmdPass         = "pass"
	CmdTrustee      = "trustee"
	CmdDissolve     = "dissolve"
	CmdDissolveVote = "dissolveVote"
	CmdHeartbeat    = "heartbeat"
	CmdGetSnapshot  = "getSnapshot"
	CmdGetRecord    = "getRecord"
	CmdListRecords  = "listRecords"
)

// 服务端事件
const (
	EventGameStart          = "gameStart"
	EventTileDrawn          = "tileDrawn" // 仅摸牌者可见
	EventTileDiscarded      = "tileDiscarded"
	EventClaimWindowOpen    = "claimWindowOpen"
	EventClaimResolved      = "claimResolved"
	EventMeldFormed         = "meldFormed"
	EventTurnChange         = "turnChange"
	EventPlayerReady        = "playerReady"
	EventPlayerJoined       = "playerJoined"
	EventPlayerLeft         = "playerLeft"
	EventPlayerDisconnected = "playerDisconnected"
	EventPlayerReconnected  = "playerReconnected"
	EventTrusteeChanged     = "trusteeChanged"
	EventSettlement         = "settlement"
	EventGameSnapshot       = "gameSnapshot" // 仅接收者可见，已脱敏
	EventDissolveVote       = "dissolveVote"
	EventRoomDissolved      = "roomDissolved"
)
