package integrity

import (
	"time"
)

// ============================================================================
// 哈希链（ChainLink）
// ============================================================================
//
// 【防篡改原理】
//
// 每条审计记录写入时生成一个链环：
//   link_n = { previousHash, contentHash, timestamp }
//   previousHash = link_{n-1} 的 ComputeHash()
//
// 如果有人事后修改了第 n-1 条记录的内容：
//   -> 第 n-1 条的 ComputeHash() 变了
//   -> 第 n 条存储的 previousHash 对不上
//   -> 从第 n 条开始验证全部失败
//
// 也就是说，改任何一条历史记录都必须重写它之后的整条链，
// 这正是篡改检测的全部机制。
//
// ============================================================================

// ChainLink 哈希链的一个链环
type ChainLink struct {
	PreviousHash ContentHash
	ContentHash  ContentHash
	Timestamp    time.Time
}

// NewChainLink 创建链环
func NewChainLink(previous, content ContentHash, ts time.Time) ChainLink {
	return ChainLink{
		PreviousHash: previous,
		ContentHash:  content,
		Timestamp:    ts,
	}
}

// ComputeHash 计算本链环自身的摘要，作为下一个链环的 previousHash
//
// 【关键点】纯函数：只依赖三个字段，任何字段变化都会改变结果
func (l ChainLink) ComputeHash() ContentHash {
	return FromStructured(map[string]interface{}{
		"previous_hash": l.PreviousHash.Hex(),
		"content_hash":  l.ContentHash.Hex(),
		"timestamp":     l.Timestamp.UnixNano(),
	})
}

// Verify 校验本链环记录的 previousHash 是否等于期望值
func (l ChainLink) Verify(expectedPrevious ContentHash) bool {
	return l.PreviousHash.Equal(expectedPrevious)
}

// VerifyChain 从创世哈希开始逐环验证整条链
//
// 返回第一个验证失败的链环下标（从 0 开始）；全部通过时返回 (-1, true)。
// 验证失败的位置就是第一条被篡改（或损坏）的记录所在
func VerifyChain(genesis ContentHash, links []ChainLink) (int, bool) {
	expected := genesis
	for i, link := range links {
		if !link.Verify(expected) {
			return i, false
		}
		expected = link.ComputeHash()
	}
	return -1, true
}
