package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
// 内容哈希（ContentHash）
// ============================================================================
//
// 【为什么需要内容哈希？】
//
// 审计记录的防篡改能力建立在"内容寻址"之上：
//   相同的内容 -> 永远得到相同的摘要
//   内容改一个字节 -> 摘要完全不同
//
// 【关键点】结构化数据必须先做规范化（canonicalization）：
//   map 的遍历顺序是不确定的，如果直接序列化再哈希，
//   同样的逻辑内容可能得到不同的摘要。
//   所以先递归地按 key 排序，再做确定性序列化，最后哈希。
//
// ============================================================================

// DigestSize 摘要长度（SHA-256，32 字节）
const DigestSize = sha256.Size

// GenesisPrefix 创世哈希的可读前缀，便于在日志/存储中一眼识别
const GenesisPrefix = "GENESIS"

var ErrInvalidHexDigest = errors.New("非法的十六进制摘要")

// ContentHash 定长内容摘要，附带可选的可读前缀（目前仅创世哈希使用）
type ContentHash struct {
	digest [DigestSize]byte
	prefix string
}

// FromContent 对原始字节做 SHA-256，得到内容哈希
func FromContent(data []byte) ContentHash {
	return ContentHash{digest: sha256.Sum256(data)}
}

// FromStructured 对结构化数据（map）做哈希
//
// 【关键点】先递归按 key 排序做规范化序列化，
// 保证 {a:1, b:2} 和 {b:2, a:1} 得到同一个摘要
func FromStructured(content map[string]interface{}) ContentHash {
	var sb strings.Builder
	canonicalize(&sb, content)
	return FromContent([]byte(sb.String()))
}

// Genesis 生成某条链的创世哈希（第一条链环的 previousHash）
//
// 创世哈希不是任何内容的摘要，用前缀标记出来，避免与普通内容摘要混淆
func Genesis(seed string) ContentHash {
	h := FromContent([]byte(GenesisPrefix + ":" + seed))
	h.prefix = GenesisPrefix
	return h
}

// Equal 摘要逐字节相等才算相等，没有"近似相等"的概念
func (h ContentHash) Equal(other ContentHash) bool {
	return h.digest == other.digest
}

// Hex 摘要的十六进制文本形式，用于日志、存储和证明传输
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h.digest[:])
}

// String 带前缀的可读形式，如 GENESIS:ab12...
func (h ContentHash) String() string {
	if h.prefix != "" {
		return h.prefix + ":" + h.Hex()
	}
	return h.Hex()
}

// Bytes 返回摘要字节的拷贝
func (h ContentHash) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, h.digest[:])
	return out
}

// ParseHex 从十六进制文本恢复内容哈希（存储读回时使用）
func ParseHex(s string) (ContentHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != DigestSize {
		return ContentHash{}, fmt.Errorf("%w: %q", ErrInvalidHexDigest, s)
	}
	var h ContentHash
	copy(h.digest[:], raw)
	return h, nil
}

// canonicalize 确定性序列化：map 按 key 排序后递归写入
//
// 输出形如 {"a":1,"b":{"c":"x"}}，与 JSON 类似但保证顺序稳定
func canonicalize(sb *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			canonicalize(sb, val[k])
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			canonicalize(sb, item)
		}
		sb.WriteByte(']')
	case string:
		sb.WriteString(strconv.Quote(val))
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case nil:
		sb.WriteString("null")
	default:
		// 兜底：其他类型用 %v 格式化（调用方应尽量只传基础类型）
		sb.WriteString(strconv.Quote(fmt.Sprintf("%v", val)))
	}
}
