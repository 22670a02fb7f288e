// Package split 将条目划分为训练集与验证集。
package split

import (
	"fmt"
	"math/rand/v2"

	"pl2tfr/pkg/contract"
)

// ValidationCount 返回 n 条中划入验证集的条数（向下取整）。
func ValidationCount(n, pct int) int {
	if n <= 0 || pct <= 0 {
		return 0
	}
	return n * pct / 100
}

// Split 按百分比划分 entries。
//
// pct == 0 表示不划分：训练集即原序输入，验证集为空，不打乱。
// 否则先对副本做均匀随机置换，前 ValidationCount 条为验证集，其余为训练集。
// rng 为 nil 时使用运行时全局随机源；输入切片不被修改。
func Split[E any](entries []E, pct int, rng *rand.Rand) (train, val []E, err error) {
	if pct < 0 || pct >= 100 {
		return nil, nil, fmt.Errorf("%w: validation percent %d out of [0,99]", contract.ErrInvalidInput, pct)
	}
	if pct == 0 {
		return entries, nil, nil
	}
	shuffled := make([]E, len(entries))
	copy(shuffled, entries)
	swap := func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] }
	if rng != nil {
		rng.Shuffle(len(shuffled), swap)
	} else {
		rand.Shuffle(len(shuffled), swap)
	}
	k := ValidationCount(len(shuffled), pct)
	return shuffled[k:], shuffled[:k], nil
}

// NewRand 返回固定种子的 PCG 随机源；seed 为 0 时返回 nil（不固定）。
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, seed))
}
