package split

import (
	"errors"
	"math/rand/v2"
	"testing"

	"pl2tfr/pkg/contract"
)

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// N=100, 20% → 验证 20 条、训练 80 条，互不重叠且并集等于输入
func TestSplitPartition(t *testing.T) {
	in := seq(100)
	train, val, err := Split(in, 20, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(val) != 20 || len(train) != 80 {
		t.Fatalf("划分大小错误: train=%d val=%d", len(train), len(val))
	}
	seen := make(map[int]int)
	for _, v := range train {
		seen[v]++
	}
	for _, v := range val {
		seen[v]++
	}
	if len(seen) != 100 {
		t.Fatalf("并集大小应为 100, got %d", len(seen))
	}
	for k, c := range seen {
		if c != 1 {
			t.Fatalf("元素 %d 出现 %d 次", k, c)
		}
	}
	for i, v := range in {
		if v != i {
			t.Fatalf("输入切片被修改")
		}
	}
}

// 不划分：原序、验证集为空
func TestSplitNone(t *testing.T) {
	in := seq(10)
	train, val, err := Split(in, 0, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(val) != 0 || len(train) != 10 {
		t.Fatalf("划分大小错误: train=%d val=%d", len(train), len(val))
	}
	for i, v := range train {
		if v != i {
			t.Fatalf("训练集应保持原序: %v", train)
		}
	}
}

// 固定种子结果可复现
func TestSplitDeterministic(t *testing.T) {
	a, av, _ := Split(seq(50), 30, NewRand(42))
	b, bv, _ := Split(seq(50), 30, NewRand(42))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("同种子训练集不同")
		}
	}
	for i := range av {
		if av[i] != bv[i] {
			t.Fatalf("同种子验证集不同")
		}
	}
	if NewRand(0) != nil {
		t.Fatalf("seed=0 应返回 nil")
	}
}

func TestValidationCount(t *testing.T) {
	cases := []struct{ n, pct, want int }{
		{100, 20, 20}, {3, 20, 0}, {5, 20, 1}, {9, 50, 4}, {0, 50, 0}, {10, 0, 0},
	}
	for _, c := range cases {
		if got := ValidationCount(c.n, c.pct); got != c.want {
			t.Fatalf("ValidationCount(%d,%d)=%d want %d", c.n, c.pct, got, c.want)
		}
	}
}

// 小集合低比例：验证集为空但合法
func TestSplitSmallSet(t *testing.T) {
	train, val, err := Split(seq(3), 20, NewRand(7))
	if err != nil || len(val) != 0 || len(train) != 3 {
		t.Fatalf("小集合划分错误: train=%v val=%v err=%v", train, val, err)
	}
}

func TestSplitRejectsOutOfRange(t *testing.T) {
	for _, pct := range []int{-1, 100, 150} {
		if _, _, err := Split(seq(3), pct, nil); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("pct=%d 应报 ErrInvalidInput, got %v", pct, err)
		}
	}
}
