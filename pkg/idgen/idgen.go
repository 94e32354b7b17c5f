package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ============================================================================
// ID 生成
// ============================================================================
//
// 凭证、分录行、科目、期间使用 UUID；
// 发件箱事件使用雪花ID，趋势递增，relay 按 ID 顺序投递即为写入顺序。
//
// ============================================================================

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init 初始化雪花节点，nodeID 取值 0-1023
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	node = n
	return nil
}

// NextID 生成下一个雪花ID
func NextID() int64 {
	mu.Lock()
	if node == nil {
		// 未初始化时默认节点 1
		node, _ = snowflake.NewNode(1)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

// NewUUID 生成实体主键
func NewUUID() string {
	return uuid.NewString()
}
