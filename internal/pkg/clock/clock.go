// internal/pkg/clock/clock.go
package clock

import "time"

// Clock 抽象当前时间，便于在测试中推进持有过期。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System 返回读取真实时间的时钟。
func System() Clock { return systemClock{} }
