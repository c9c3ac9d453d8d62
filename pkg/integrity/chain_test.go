package integrity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain 构造一条 n 环的链，返回链环和每环的内容
func buildChain(t *testing.T, genesis ContentHash, n int) ([]ChainLink, [][]byte) {
	t.Helper()
	links := make([]ChainLink, 0, n)
	contents := make([][]byte, 0, n)
	prev := genesis
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		content := []byte(fmt.Sprintf("record-%d", i))
		link := NewChainLink(prev, FromContent(content), base.Add(time.Duration(i)*time.Second))
		links = append(links, link)
		contents = append(contents, content)
		prev = link.ComputeHash()
	}
	return links, contents
}

func TestComputeHash_Deterministic(t *testing.T) {
	g := Genesis("test")
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	l1 := NewChainLink(g, FromContent([]byte("a")), ts)
	l2 := NewChainLink(g, FromContent([]byte("a")), ts)
	assert.True(t, l1.ComputeHash().Equal(l2.ComputeHash()))

	// 任何字段变化都会改变摘要
	l3 := NewChainLink(g, FromContent([]byte("b")), ts)
	assert.False(t, l1.ComputeHash().Equal(l3.ComputeHash()))
	l4 := NewChainLink(g, FromContent([]byte("a")), ts.Add(time.Nanosecond))
	assert.False(t, l1.ComputeHash().Equal(l4.ComputeHash()))
}

func TestVerifyChain_Intact(t *testing.T) {
	g := Genesis("company:1")
	links, _ := buildChain(t, g, 5)

	broken, ok := VerifyChain(g, links)
	assert.True(t, ok)
	assert.Equal(t, -1, broken)
}

// 原地篡改第 2 环（下标 1）的内容：
// 第 1-2 环相对创世仍然衔接，但第 3 环开始全部失败
func TestVerifyChain_TamperDetection(t *testing.T) {
	g := Genesis("company:1")
	links, _ := buildChain(t, g, 5)

	links[1].ContentHash = FromContent([]byte("doctored"))

	broken, ok := VerifyChain(g, links)
	require.False(t, ok)
	// 链环 0、1 的 previousHash 衔接没变，断点出现在篡改点之后的第一环
	assert.Equal(t, 2, broken)

	// 篡改点之前的前缀单独验证仍然通过
	prefixBroken, prefixOK := VerifyChain(g, links[:2])
	assert.True(t, prefixOK)
	assert.Equal(t, -1, prefixBroken)
}

func TestVerifyChain_WrongGenesis(t *testing.T) {
	g := Genesis("company:1")
	links, _ := buildChain(t, g, 3)

	broken, ok := VerifyChain(Genesis("company:2"), links)
	assert.False(t, ok)
	assert.Equal(t, 0, broken)
}

func TestVerify_ExpectedPrevious(t *testing.T) {
	g := Genesis("x")
	link := NewChainLink(g, FromContent([]byte("a")), time.Now())
	assert.True(t, link.Verify(g))
	assert.False(t, link.Verify(FromContent([]byte("other"))))
}
