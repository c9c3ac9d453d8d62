package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 状态机：DRAFT -> POSTED -> VOIDED，VOIDED 是终态。
// 冲正落账时原分录的 POSTED -> VOIDED 与镜像分录同事务提交，
// 这里保证状态机本身不给"已作废再作废"留任何入口
func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(EntryStatusDraft, EntryStatusPosted))
	assert.True(t, CanTransitionTo(EntryStatusPosted, EntryStatusVoided))

	assert.False(t, CanTransitionTo(EntryStatusDraft, EntryStatusVoided))
	assert.False(t, CanTransitionTo(EntryStatusPosted, EntryStatusDraft))
	assert.False(t, CanTransitionTo(EntryStatusVoided, EntryStatusPosted))
	assert.False(t, CanTransitionTo(EntryStatusVoided, EntryStatusVoided))
	assert.False(t, CanTransitionTo("UNKNOWN", EntryStatusPosted))
}
