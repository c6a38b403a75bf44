package domain

// QueueAssignment 病例的队列位分配结果
//
// 由 Queue Assignment Engine 计算并独占写入；slot=0 且 Overflow=true
// 表示数字模式下的溢出病例（第 10 个及以后），按时间排序显示
type QueueAssignment struct {
	CaseID   string `json:"case_id"`
	ORRoomID string `json:"or_room_id"`
	Period   Period `json:"period"`
	Slot     int    `json:"slot"`
	Overflow bool   `json:"overflow"`
}
