package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContent_Deterministic(t *testing.T) {
	h1 := FromContent([]byte("x"))
	h2 := FromContent([]byte("x"))
	assert.True(t, h1.Equal(h2))
	assert.Equal(t, h1.Hex(), h2.Hex())
}

func TestFromContent_DifferentInput(t *testing.T) {
	h1 := FromContent([]byte("x"))
	h2 := FromContent([]byte("y"))
	assert.False(t, h1.Equal(h2))
}

// 同样的逻辑内容，不同的 key 书写顺序，摘要必须一致
func TestFromStructured_KeyOrderIndependent(t *testing.T) {
	h1 := FromStructured(map[string]interface{}{"a": 1, "b": 2})
	h2 := FromStructured(map[string]interface{}{"b": 2, "a": 1})
	assert.True(t, h1.Equal(h2))
}

// 嵌套 map 也要递归排序
func TestFromStructured_NestedMaps(t *testing.T) {
	h1 := FromStructured(map[string]interface{}{
		"outer": map[string]interface{}{"x": "1", "y": "2"},
		"list":  []interface{}{int64(1), int64(2)},
	})
	h2 := FromStructured(map[string]interface{}{
		"list":  []interface{}{int64(1), int64(2)},
		"outer": map[string]interface{}{"y": "2", "x": "1"},
	})
	assert.True(t, h1.Equal(h2))
}

func TestFromStructured_ValueSensitive(t *testing.T) {
	h1 := FromStructured(map[string]interface{}{"a": 1})
	h2 := FromStructured(map[string]interface{}{"a": 2})
	assert.False(t, h1.Equal(h2))
}

func TestGenesis(t *testing.T) {
	g1 := Genesis("company:1")
	g2 := Genesis("company:1")
	g3 := Genesis("company:2")

	assert.True(t, g1.Equal(g2))
	assert.False(t, g1.Equal(g3))
	// 前缀让创世哈希在日志里一眼可辨
	assert.Contains(t, g1.String(), GenesisPrefix)
	// 前缀不参与相等性判断，摘要才是身份
	assert.False(t, g1.Equal(FromContent([]byte("company:1"))))
}

func TestParseHex_RoundTrip(t *testing.T) {
	h := FromContent([]byte("hello"))
	parsed, err := ParseHex(h.Hex())
	require.NoError(t, err)
	assert.True(t, h.Equal(parsed))
}

func TestParseHex_Invalid(t *testing.T) {
	_, err := ParseHex("not-hex")
	assert.ErrorIs(t, err, ErrInvalidHexDigest)

	_, err = ParseHex("abcd") // 长度不够
	assert.ErrorIs(t, err, ErrInvalidHexDigest)
}
