package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookkeeper/internal/model"
)

func TestMirrorLines(t *testing.T) {
	original := []model.JournalLine{
		{AccountID: 1, Side: model.SideDebit, AmountCents: 50000},
		{AccountID: 2, Side: model.SideCredit, AmountCents: 30000},
		{AccountID: 3, Side: model.SideCredit, AmountCents: 20000},
	}

	mirrored := mirrorLines(original)
	require.Len(t, mirrored, 3)

	for i, m := range mirrored {
		assert.Equal(t, original[i].AccountID, m.AccountID)
		assert.Equal(t, model.OppositeSide(original[i].Side), m.Side)
		assert.Equal(t, original[i].AmountCents, m.AmountCents)
	}

	// 镜像行借贷互换后依然是平的
	var debits, credits int64
	for _, m := range mirrored {
		if m.Side == model.SideDebit {
			debits += m.AmountCents
		} else {
			credits += m.AmountCents
		}
	}
	assert.Equal(t, debits, credits)
}
