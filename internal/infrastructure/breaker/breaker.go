package breaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ============================================================================
// 熔断器
// ============================================================================
//
// 三种状态：
//   closed    - 正常放行，统计连续失败次数
//   open      - 连续失败达到阈值后打开，冷却期内直接拒绝
//   half-open - 冷却期结束后放行少量探测请求，成功则关闭，失败则重新打开
//
// 用于包裹 Redis 幂等操作和 Kafka 投递。
//
// ============================================================================

// State 熔断器状态
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

var ErrOpen = errors.New("熔断器已打开")

// Settings 熔断参数
type Settings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	OnStateChange       func(name string, from, to State)
}

// Counts 当前统计窗口的计数
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker 熔断器状态对象，调用方显式包裹外部调用
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

func New(s Settings, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}

	b := &Breaker{name: s.Name}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变化",
				zap.String("breaker", name),
				zap.String("from", string(toState(from))),
				zap.String("to", string(toState(to))),
			)
			if s.OnStateChange != nil {
				s.OnStateChange(name, toState(from), toState(to))
			}
		},
	})
	return b
}

// Execute 在熔断器保护下执行 fn，打开状态下直接返回 ErrOpen
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	return err
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	return toState(b.cb.State())
}

func (b *Breaker) Counts() Counts {
	c := b.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalFailures:        c.TotalFailures,
		ConsecutiveFailures:  c.ConsecutiveFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
	}
}

func toState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
