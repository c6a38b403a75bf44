package domain

import "time"

// FeedState Monitor 连接状态
type FeedState string

const (
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
	FeedDisconnected FeedState = "disconnected"
)

// FeedHealth Feed Client 对外暴露的健康信号
type FeedHealth struct {
	State           FeedState  `json:"state"`
	LastError       string     `json:"last_error,omitempty"`
	Attempt         int        `json:"attempt,omitempty"`           // 当前重连尝试次数
	NextReconnectAt *time.Time `json:"next_reconnect_at,omitempty"` // 下次重连时间
}

// SyncHealth 同步子系统整体健康（表示层只观察该信号，不接触内部错误）
type SyncHealth struct {
	Feed FeedHealth `json:"feed"`
	// Degraded 存储写入重试耗尽后置位；恢复成功写入后清除
	Degraded    bool      `json:"degraded"`
	DegradedMsg string    `json:"degraded_msg,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
