package feed

import "time"

// Backoff 指数退避计算器
//
// 延迟从 min 开始，每次连续失败乘以 multiplier，封顶 max；
// 连接存活超过阈值后由调用方 Reset 回到 min
type Backoff struct {
	min        time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

// NewBackoff 创建退避计算器
func NewBackoff(min, max time.Duration, multiplier float64) *Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	return &Backoff{min: min, max: max, multiplier: multiplier, current: min}
}

// Next 返回本次应等待的延迟并推进到下一档
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return d
}

// Reset 回到最小延迟
func (b *Backoff) Reset() {
	b.current = b.min
}
