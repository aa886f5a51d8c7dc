package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const cycleContextKey contextKey = "orderrelay_cycle_context"

// CycleContext 一次轮询周期的追踪信息，随 context 传递到各组件
type CycleContext struct {
	CycleID   string // 10位短ID，如 mgrn0zfqda
	SessionID string
	StartedAt time.Time
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMutex   sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateCycleID returns a 10 character base36 identifier.
func GenerateCycleID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithCycleContext 注入周期上下文
func WithCycleContext(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, cycleContextKey, &CycleContext{
		CycleID:   GenerateCycleID(),
		SessionID: sessionID,
		StartedAt: time.Now(),
	})
}

// GetCycleContext never returns nil.
func GetCycleContext(ctx context.Context) *CycleContext {
	if ctx != nil {
		if c, ok := ctx.Value(cycleContextKey).(*CycleContext); ok {
			return c
		}
	}
	return &CycleContext{CycleID: "-"}
}

// GetCycleID 便捷方法
func GetCycleID(ctx context.Context) string {
	return GetCycleContext(ctx).CycleID
}

// GetElapsedTime 周期已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	c := GetCycleContext(ctx)
	if c.StartedAt.IsZero() {
		return 0
	}
	return time.Since(c.StartedAt).Milliseconds()
}
