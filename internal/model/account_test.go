package model

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(t *testing.T, category string, openingCents int64) *Account {
	t.Helper()
	a, err := NewAccount(1, "1001", "测试账户", category, "CNY", openingCents)
	require.NoError(t, err)
	a.ID = 100
	return a
}

func TestNewAccount_RejectsNegativeOpeningForNonEquity(t *testing.T) {
	_, err := NewAccount(1, "1001", "现金", CategoryAsset, "CNY", -1)
	assert.ErrorIs(t, err, ErrInvalidAccountState)

	// 权益类允许负期初余额
	a, err := NewAccount(1, "3001", "所有者权益", CategoryEquity, "CNY", -500)
	require.NoError(t, err)
	assert.Equal(t, int64(-500), a.CurrentBalanceCents)
}

func TestNewAccount_DerivesNormalSide(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 0)
	assert.Equal(t, SideDebit, a.NormalSide)

	b, err := NewAccount(1, "2001", "应付账款", CategoryLiability, "CNY", 0)
	require.NoError(t, err)
	assert.Equal(t, SideCredit, b.NormalSide)
}

func TestReconstructAccount_RechecksInvariants(t *testing.T) {
	// 正常余额方向与类别不一致必须被拒绝
	_, err := ReconstructAccount(Account{ID: 1, Category: CategoryAsset, NormalSide: SideCredit})
	assert.ErrorIs(t, err, ErrInvalidAccountState)

	// 非权益类负余额必须被拒绝
	_, err = ReconstructAccount(Account{ID: 1, Category: CategoryAsset, NormalSide: SideDebit, CurrentBalanceCents: -1})
	assert.ErrorIs(t, err, ErrInvalidAccountState)

	// 未知类别
	_, err = ReconstructAccount(Account{ID: 1, Category: "CONTRA", NormalSide: SideDebit})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	a, err := ReconstructAccount(Account{ID: 1, Category: CategoryEquity, NormalSide: SideCredit, CurrentBalanceCents: -200})
	require.NoError(t, err)
	assert.Equal(t, int64(-200), a.CurrentBalanceCents)
}

func TestApplyChange_UpdatesBalanceAndMetrics(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 1000)
	now := time.Now()

	change, err := ComputeBalanceChange(a.NormalSide, SideDebit, a.CurrentBalanceCents, 500, a.ID, "JRN1")
	require.NoError(t, err)

	event, err := a.ApplyChange(change, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), a.CurrentBalanceCents)
	assert.Equal(t, int64(500), a.TotalDebitsCents)
	assert.Equal(t, int64(0), a.TotalCreditsCents)
	assert.Equal(t, int64(1), a.TransactionCount)
	assert.Equal(t, 1, a.Version)
	require.NotNil(t, a.LastTransactionAt)

	assert.Equal(t, int64(1000), event.OldBalanceCents)
	assert.Equal(t, int64(1500), event.NewBalanceCents)
	assert.Equal(t, "JRN1", event.EntryNo)
}

func TestApplyChange_RejectsStalePreviousBalance(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 1000)

	// 基于过期余额快照计算的变更必须报并发冲突，绝不悄悄纠正
	stale, err := ComputeBalanceChange(a.NormalSide, SideDebit, 800, 100, a.ID, "JRN1")
	require.NoError(t, err)

	_, err = a.ApplyChange(stale, time.Now())
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, int64(1000), a.CurrentBalanceCents, "冲突时余额不得被修改")
	assert.Equal(t, 0, a.Version)
}

func TestApplyChange_RejectsWrongAccount(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 1000)

	change, err := ComputeBalanceChange(a.NormalSide, SideDebit, 1000, 100, a.ID+1, "JRN1")
	require.NoError(t, err)

	_, err = a.ApplyChange(change, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAccountState)
}

func TestApplyChange_NegativeBalanceGuard(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 100)

	// 资产账户贷记 150 会导致余额 -50，必须被拒绝
	change, err := ComputeBalanceChange(a.NormalSide, SideCredit, a.CurrentBalanceCents, 150, a.ID, "JRN1")
	require.NoError(t, err)
	assert.True(t, a.WouldBeNegativeAfterChange(change.ChangeCents))

	_, err = a.ApplyChange(change, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAccountState)
	assert.Equal(t, int64(100), a.CurrentBalanceCents)

	// 权益类账户允许变负
	e := newTestAccount(t, CategoryEquity, 100)
	change, err = ComputeBalanceChange(e.NormalSide, SideDebit, e.CurrentBalanceCents, 150, e.ID, "JRN1")
	require.NoError(t, err)

	_, err = e.ApplyChange(change, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(-50), e.CurrentBalanceCents)
}

// 系统账户吸收进出账本的资金流，任何类别都允许变负
func TestApplyChange_SystemAccountMayGoNegative(t *testing.T) {
	sys := newTestAccount(t, CategoryAsset, 0)
	sys.IsSystem = true

	change, err := ComputeBalanceChange(sys.NormalSide, SideCredit, sys.CurrentBalanceCents, 500, sys.ID, "JRN1")
	require.NoError(t, err)

	_, err = sys.ApplyChange(change, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(-500), sys.CurrentBalanceCents)
}

func TestReconstructAccount_NegativeSystemBalance(t *testing.T) {
	a, err := ReconstructAccount(Account{
		ID:                  1,
		Category:            CategoryAsset,
		NormalSide:          SideDebit,
		IsSystem:            true,
		CurrentBalanceCents: -500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-500), a.CurrentBalanceCents)
}

// 余额恒等式：随机变更序列应用后 current = opening + Σchange
func TestApplyChange_BalanceIdentityUnderRandomSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestAccount(t, CategoryEquity, 10000) // 权益类不触发负余额拦截

	var sum int64
	for i := 0; i < 200; i++ {
		side := SideDebit
		if rng.Intn(2) == 0 {
			side = SideCredit
		}
		amount := int64(rng.Intn(500))

		change, err := ComputeBalanceChange(a.NormalSide, side, a.CurrentBalanceCents, amount, a.ID, "")
		require.NoError(t, err)

		_, err = a.ApplyChange(change, time.Now())
		require.NoError(t, err)
		sum += change.ChangeCents
	}

	assert.Equal(t, a.OpeningBalanceCents+sum, a.CurrentBalanceCents)
	assert.Equal(t, int64(200), a.TransactionCount)
	assert.Equal(t, 200, a.Version)
	// 贷方为正常方向：余额净增量 = 贷方合计 - 借方合计
	assert.Equal(t, a.TotalCreditsCents-a.TotalDebitsCents, a.CurrentBalanceCents-a.OpeningBalanceCents)
}

func TestReleaseEvents_DrainOnce(t *testing.T) {
	a := newTestAccount(t, CategoryAsset, 1000)

	for i := 0; i < 3; i++ {
		change, err := ComputeBalanceChange(a.NormalSide, SideDebit, a.CurrentBalanceCents, 100, a.ID, "JRN1")
		require.NoError(t, err)
		_, err = a.ApplyChange(change, time.Now())
		require.NoError(t, err)
	}

	events := a.ReleaseEvents()
	assert.Len(t, events, 3)

	// 第二次取空
	assert.Empty(t, a.ReleaseEvents())
}
