package integrity

import (
	"errors"
	"fmt"
)

// ============================================================================
// 默克尔树（MerkleTree）
// ============================================================================
//
// 【为什么在哈希链之外还需要默克尔树？】
//
// 哈希链是严格串行的：要验证第 n 条记录，必须从创世开始重放前 n 条。
// 外部审计方往往只想确认"某一条记录确实在已发布的批次里"，
// 不想传输、也不想重算整个批次。
//
// 默克尔树把一批叶子两两哈希归约成一个根：
//   - 发布方只公布根哈希
//   - 证明一条记录的归属只需要 log2(n) 个兄弟哈希
//
// 【构造规则】
//   - 叶子按顺序排列，自底向上两两配对
//   - 某一层节点数为奇数时，复制最后一个节点补齐
//   - 单个叶子自身就是根
//
// ============================================================================

var (
	ErrEmptyLeaves    = errors.New("叶子列表不能为空")
	ErrLeafIndexRange = errors.New("叶子下标越界")
)

// MerkleTree 一批内容哈希的默克尔树，levels[0] 是叶子层
type MerkleTree struct {
	levels [][]ContentHash
}

// Proof 包含证明（inclusion proof）：从某个叶子重算到根所需的兄弟哈希序列
type Proof struct {
	LeafIndex int
	Steps     []ProofStep
}

// ProofStep 证明的一步：兄弟哈希及其方位
type ProofStep struct {
	Hash ContentHash
	Left bool // true 表示兄弟在左侧：parent = H(sibling || current)
}

// FromLeaves 自底向上构建默克尔树
func FromLeaves(leaves []ContentHash) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}

	levels := make([][]ContentHash, 0, 8)
	level := make([]ContentHash, len(leaves))
	copy(level, leaves)
	levels = append(levels, level)

	for len(level) > 1 {
		// 奇数个节点：复制最后一个补齐
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]ContentHash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return &MerkleTree{levels: levels}, nil
}

// Root 根哈希
func (t *MerkleTree) Root() ContentHash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount 叶子数量
func (t *MerkleTree) LeafCount() int {
	return len(t.levels[0])
}

// GenerateProof 为第 index 个叶子生成包含证明
func (t *MerkleTree) GenerateProof(index int) (Proof, error) {
	if index < 0 || index >= t.LeafCount() {
		return Proof{}, fmt.Errorf("%w: %d", ErrLeafIndexRange, index)
	}

	proof := Proof{LeafIndex: index}
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		// 与构建时一致：奇数层复制最后一个节点
		nodes := level
		if len(nodes)%2 == 1 {
			nodes = append(append([]ContentHash{}, nodes...), nodes[len(nodes)-1])
		}
		if pos%2 == 0 {
			proof.Steps = append(proof.Steps, ProofStep{Hash: nodes[pos+1], Left: false})
		} else {
			proof.Steps = append(proof.Steps, ProofStep{Hash: nodes[pos-1], Left: true})
		}
		pos /= 2
	}
	return proof, nil
}

// Verify 用证明从叶子重算到根，与给定的根比对
//
// 证明、叶子、根三者有任何一个不匹配都会返回 false
func (p Proof) Verify(leaf, root ContentHash) bool {
	current := leaf
	for _, step := range p.Steps {
		if step.Left {
			current = hashPair(step.Hash, current)
		} else {
			current = hashPair(current, step.Hash)
		}
	}
	return current.Equal(root)
}

// hashPair 两个子节点归约为父节点：H(left || right)
func hashPair(left, right ContentHash) ContentHash {
	data := make([]byte, 0, DigestSize*2)
	data = append(data, left.Bytes()...)
	data = append(data, right.Bytes()...)
	return FromContent(data)
}
