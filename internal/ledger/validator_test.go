package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookkeeper/internal/model"
)

func mustAccount(t *testing.T, id int64, code, category string, balanceCents int64) *model.Account {
	t.Helper()
	a, err := model.NewAccount(1, code, code, category, "CNY", balanceCents)
	require.NoError(t, err)
	a.ID = id
	return a
}

func asMap(accounts ...*model.Account) map[int64]*model.Account {
	m := make(map[int64]*model.Account, len(accounts))
	for _, a := range accounts {
		m[a.ID] = a
	}
	return m
}

func TestValidateEquation_Balanced(t *testing.T) {
	// 资产 1000 = 负债 300 + 权益 500 + 收入 400 - 费用 200
	accounts := []*model.Account{
		mustAccount(t, 1, "1001", model.CategoryAsset, 1000),
		mustAccount(t, 2, "2001", model.CategoryLiability, 300),
		mustAccount(t, 3, "3001", model.CategoryEquity, 500),
		mustAccount(t, 4, "4001", model.CategoryRevenue, 400),
		mustAccount(t, 5, "5001", model.CategoryExpense, 200),
	}

	result := ValidateEquation(1, accounts)
	assert.True(t, result.Balanced)
	assert.Equal(t, int64(0), result.DifferenceCents)
	assert.Equal(t, int64(1000), result.AssetsCents)
	assert.Equal(t, int64(200), result.ExpensesCents)
}

func TestValidateEquation_Broken(t *testing.T) {
	accounts := []*model.Account{
		mustAccount(t, 1, "1001", model.CategoryAsset, 1000),
		mustAccount(t, 2, "3001", model.CategoryEquity, 900),
	}

	result := ValidateEquation(1, accounts)
	assert.False(t, result.Balanced)
	assert.Equal(t, int64(100), result.DifferenceCents)
}

func TestValidateEquation_EpsilonTolerance(t *testing.T) {
	// 1 分以内的差额视为平衡
	accounts := []*model.Account{
		mustAccount(t, 1, "1001", model.CategoryAsset, 1001),
		mustAccount(t, 2, "3001", model.CategoryEquity, 1000),
	}
	assert.True(t, ValidateEquation(1, accounts).Balanced)

	accounts[0].CurrentBalanceCents = 1002
	assert.False(t, ValidateEquation(1, accounts).Balanced)
}

func TestValidateEquation_SkipsSystemAccounts(t *testing.T) {
	system := mustAccount(t, 9, "9001", model.CategoryAsset, 99999)
	system.IsSystem = true

	accounts := []*model.Account{
		mustAccount(t, 1, "1001", model.CategoryAsset, 500),
		mustAccount(t, 2, "3001", model.CategoryEquity, 500),
		system,
	}

	result := ValidateEquation(1, accounts)
	assert.True(t, result.Balanced)
	assert.Equal(t, int64(500), result.AssetsCents, "系统账户余额不计入")
}

func TestValidateProposedTransaction_InsufficientRows(t *testing.T) {
	result := ValidateProposedTransaction(1, asMap(), []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 100},
	})
	require.False(t, result.Valid)
	assert.Equal(t, ViolationInsufficientRows, result.Violations[0].Code)
}

func TestValidateProposedTransaction_InvalidLine(t *testing.T) {
	balances := asMap(
		mustAccount(t, 1, "1001", model.CategoryAsset, 1000),
		mustAccount(t, 2, "4001", model.CategoryRevenue, 1000),
	)

	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: "BOTH", AmountCents: 100},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 0},
	})
	require.False(t, result.Valid)
	require.Len(t, result.Violations, 2)
	assert.Equal(t, ViolationInvalidLine, result.Violations[0].Code)
	assert.Equal(t, ViolationInvalidLine, result.Violations[1].Code)
}

func TestValidateProposedTransaction_UnbalancedLines(t *testing.T) {
	balances := asMap(
		mustAccount(t, 1, "1001", model.CategoryAsset, 1000),
		mustAccount(t, 2, "4001", model.CategoryRevenue, 0),
	)

	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 500},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 400},
	})
	require.False(t, result.Valid)
	assert.Equal(t, ViolationUnbalancedLines, result.Violations[0].Code)
}

func TestValidateProposedTransaction_UnknownAccount(t *testing.T) {
	balances := asMap(mustAccount(t, 1, "1001", model.CategoryAsset, 1000))

	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 100},
		{AccountID: 999, Side: model.SideCredit, AmountCents: 100},
	})
	require.False(t, result.Valid)
	assert.Equal(t, ViolationUnknownAccount, result.Violations[0].Code)
	assert.Equal(t, int64(999), result.Violations[0].AccountID)
}

func TestValidateProposedTransaction_NegativeBalanceRejected(t *testing.T) {
	cash := mustAccount(t, 1, "1001", model.CategoryAsset, 100)
	revenue := mustAccount(t, 2, "4001", model.CategoryRevenue, 1000)
	balances := asMap(cash, revenue)

	// 现金余额 100，贷记 150 将使余额变为 -50
	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 2, Side: model.SideDebit, AmountCents: 150},
		{AccountID: 1, Side: model.SideCredit, AmountCents: 150},
	})
	require.False(t, result.Valid)

	v := result.Violations[0]
	assert.Equal(t, ViolationNegativeBalance, v.Code)
	assert.Equal(t, int64(1), v.AccountID)
	assert.Equal(t, int64(100), v.CurrentCents)
	assert.Equal(t, int64(-50), v.ProjectedCents)

	// 预检不修改任何账户状态
	assert.Equal(t, int64(100), cash.CurrentBalanceCents)
	assert.Equal(t, int64(1000), revenue.CurrentBalanceCents)
}

func TestValidateProposedTransaction_EquityMayGoNegative(t *testing.T) {
	equity := mustAccount(t, 1, "3001", model.CategoryEquity, 100)
	cash := mustAccount(t, 2, "1001", model.CategoryAsset, 100)
	payable := mustAccount(t, 3, "2001", model.CategoryLiability, 0)
	balances := asMap(equity, cash, payable)

	// 权益借记 150 使余额 -50，允许（所有者超额提取）
	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 150},
		{AccountID: 3, Side: model.SideCredit, AmountCents: 150},
	})
	assert.True(t, result.Valid)
}

func TestValidateProposedTransaction_SystemAccountExempt(t *testing.T) {
	systemA := mustAccount(t, 1, "9001", model.CategoryAsset, 0)
	systemA.IsSystem = true
	systemB := mustAccount(t, 2, "9002", model.CategoryAsset, 0)
	systemB.IsSystem = true
	cash := mustAccount(t, 3, "1001", model.CategoryAsset, 500)
	equity := mustAccount(t, 4, "3001", model.CategoryEquity, 500)
	balances := asMap(systemA, systemB, cash, equity)

	// 系统账户预演为负不拦截，也不参与恒等式求和
	lines := []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 500},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 500},
	}
	result := ValidateProposedTransaction(1, balances, lines)
	require.True(t, result.Valid)

	// 闸门放行的分录，逐行应用必须同样成功：
	// 系统账户变负在闸门和聚合两边的口径一致
	now := time.Now()
	for _, line := range lines {
		a := balances[line.AccountID]
		change, err := model.ComputeBalanceChange(a.NormalSide, line.Side, a.CurrentBalanceCents, line.AmountCents, a.ID, "JRN1")
		require.NoError(t, err)
		_, err = a.ApplyChange(change, now)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(500), systemA.CurrentBalanceCents)
	assert.Equal(t, int64(-500), systemB.CurrentBalanceCents)
}

func TestValidateProposedTransaction_SameAccountMultipleLines(t *testing.T) {
	cash := mustAccount(t, 1, "1001", model.CategoryAsset, 100)
	revenue := mustAccount(t, 2, "4001", model.CategoryRevenue, 100)
	balances := asMap(cash, revenue)

	// 同一账户多行必须按行累计推进：先借 100（余额 200）再贷 150（余额 50），合法
	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 100},
		{AccountID: 1, Side: model.SideCredit, AmountCents: 150},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 100},
		{AccountID: 2, Side: model.SideDebit, AmountCents: 150},
	})
	assert.True(t, result.Valid)
}

func TestValidateProposedTransaction_HappyPath(t *testing.T) {
	cash := mustAccount(t, 1, "1001", model.CategoryAsset, 0)
	revenue := mustAccount(t, 2, "4001", model.CategoryRevenue, 0)
	equity := mustAccount(t, 3, "3001", model.CategoryEquity, 0)
	balances := asMap(cash, revenue, equity)

	// 收到服务收入 500.00 元：借现金，贷收入
	result := ValidateProposedTransaction(1, balances, []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 50000},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 50000},
	})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

// 恒等式封闭性：从平衡账本出发，任意借贷平衡的分录应用后恒等式依然成立
func TestEquation_ClosedUnderBalancedTransactions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	accounts := []*model.Account{
		mustAccount(t, 1, "1001", model.CategoryAsset, 100000),
		mustAccount(t, 2, "1002", model.CategoryAsset, 50000),
		mustAccount(t, 3, "2001", model.CategoryLiability, 30000),
		mustAccount(t, 4, "3001", model.CategoryEquity, 120000),
		mustAccount(t, 5, "4001", model.CategoryRevenue, 20000),
		mustAccount(t, 6, "5001", model.CategoryExpense, 20000),
	}
	balances := asMap(accounts...)
	require.True(t, ValidateEquation(1, accounts).Balanced)

	now := time.Now()
	applied := 0
	for i := 0; i < 100; i++ {
		debit := accounts[rng.Intn(len(accounts))]
		credit := accounts[rng.Intn(len(accounts))]
		if debit.ID == credit.ID {
			continue
		}
		amount := int64(rng.Intn(1000) + 1)

		lines := []ProposedLine{
			{AccountID: debit.ID, Side: model.SideDebit, AmountCents: amount},
			{AccountID: credit.ID, Side: model.SideCredit, AmountCents: amount},
		}
		if !ValidateProposedTransaction(1, balances, lines).Valid {
			continue
		}

		for _, line := range lines {
			a := balances[line.AccountID]
			change, err := model.ComputeBalanceChange(a.NormalSide, line.Side, a.CurrentBalanceCents, line.AmountCents, a.ID, "")
			require.NoError(t, err)
			_, err = a.ApplyChange(change, now)
			require.NoError(t, err)
		}
		applied++

		require.True(t, ValidateEquation(1, accounts).Balanced, "第 %d 笔后恒等式被破坏", i)
	}
	assert.Greater(t, applied, 0)
}

// 端到端：过账一笔收入，再整体冲正，余额回到原点且恒等式始终成立
func TestEquation_PostThenVoidRoundTrip(t *testing.T) {
	cash := mustAccount(t, 1, "1001", model.CategoryAsset, 0)
	revenue := mustAccount(t, 2, "4001", model.CategoryRevenue, 0)
	balances := asMap(cash, revenue)
	accounts := []*model.Account{cash, revenue}
	now := time.Now()

	post := []ProposedLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 50000},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 50000},
	}
	require.True(t, ValidateProposedTransaction(1, balances, post).Valid)

	var originals []model.BalanceChange
	for _, line := range post {
		a := balances[line.AccountID]
		change, err := model.ComputeBalanceChange(a.NormalSide, line.Side, a.CurrentBalanceCents, line.AmountCents, a.ID, "JRN1")
		require.NoError(t, err)
		_, err = a.ApplyChange(change, now)
		require.NoError(t, err)
		originals = append(originals, change)
	}
	assert.Equal(t, int64(50000), cash.CurrentBalanceCents)
	assert.Equal(t, int64(50000), revenue.CurrentBalanceCents)
	assert.True(t, ValidateEquation(1, accounts).Balanced)

	// 冲正：镜像分录同样要过闸门
	voidLines := make([]ProposedLine, 0, len(originals))
	for _, original := range originals {
		voidLines = append(voidLines, ProposedLine{
			AccountID:   original.AccountID,
			Side:        model.OppositeSide(original.Side),
			AmountCents: original.AmountCents,
		})
	}
	require.True(t, ValidateProposedTransaction(1, balances, voidLines).Valid)

	for _, original := range originals {
		a := balances[original.AccountID]
		reversal, err := model.ComputeReversal(a.NormalSide, original, a.CurrentBalanceCents, "JRN2")
		require.NoError(t, err)
		_, err = a.ApplyChange(reversal, now)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(0), cash.CurrentBalanceCents)
	assert.Equal(t, int64(0), revenue.CurrentBalanceCents)
	assert.True(t, ValidateEquation(1, accounts).Balanced)
}
