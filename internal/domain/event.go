package domain

// 广播受众。Broadcast Engine 按此决定投递范围。
type Audience int

const (
	AudienceAll    Audience = iota // 空间内所有连接（含发送者，例如 rename 的确认）
	AudienceOthers                 // 除发送者之外的所有连接（例如 move 这类回声敏感事件）
	AudienceSelf                   // 仅发送者（例如错误提示、world-state）
	AudienceTarget                 // 指定连接（WebRTC 信令转发）
)

// Event 是服务层产出、由 Hub 投递的出站事件。
// Payload 在投递前被序列化为 {"type": Name, "data": Payload} 信封。
type Event struct {
	Name       string
	Payload    interface{}
	Audience   Audience
	TargetConn string // 仅 AudienceTarget 使用
}

// 服务端到客户端的事件名。
const (
	EvtWorldState         = "world-state"
	EvtUserJoined         = "user-joined"
	EvtUserMoved          = "user-moved"
	EvtUserLeft           = "user-left"
	EvtUserRenamed        = "user-renamed"
	EvtAvatarUpdated      = "avatar-updated"
	EvtObjectAdded        = "object-added"
	EvtObjectMoved        = "object-moved"
	EvtObjectDeleted      = "object-deleted"
	EvtScreenShareStarted = "screen-share-started"
	EvtScreenShareStopped = "screen-share-stopped"
	EvtChatMessage        = "chat-message"
	EvtModelDeleted       = "model-deleted"
	EvtError              = "error"
)
