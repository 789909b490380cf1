package syncer

import (
	"context"
	"sync"
	"time"

	"LongVideoAssistant/logger"
)

const (
	DefaultIdleInterval   = 5 * time.Minute
	DefaultIdleDeferral   = 2 * time.Minute
	DefaultActivityWindow = 30 * time.Second
)

// ActivityTracker 记录最近一次用户输入
type ActivityTracker struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewActivityTracker(now func() time.Time) *ActivityTracker {
	if now == nil {
		now = time.Now
	}
	return &ActivityTracker{now: now, last: now()}
}

func (a *ActivityTracker) Touch() {
	a.mu.Lock()
	a.last = a.now()
	a.mu.Unlock()
}

// ActiveWithin 最近 window 内是否有输入
func (a *ActivityTracker) ActiveWithin(window time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Sub(a.last) < window
}

// IdleLoop 空闲时定期全量拉取；忙碌或用户活跃时推迟
type IdleLoop struct {
	Pull     func(ctx context.Context) error
	Busy     func() bool
	Activity *ActivityTracker

	Interval time.Duration
	Deferral time.Duration
	Window   time.Duration

	Log *logger.Logger
}

func NewIdleLoop(pull func(ctx context.Context) error, busy func() bool, activity *ActivityTracker, log *logger.Logger) *IdleLoop {
	if log == nil {
		log = logger.Nop()
	}
	return &IdleLoop{
		Pull:     pull,
		Busy:     busy,
		Activity: activity,
		Interval: DefaultIdleInterval,
		Deferral: DefaultIdleDeferral,
		Window:   DefaultActivityWindow,
		Log:      log,
	}
}

// Attempt 执行一次调度判断，返回是否执行了拉取以及下一次等待时长。
// 拉取失败不重试，按正常间隔进入下一轮
func (l *IdleLoop) Attempt(ctx context.Context) (pulled bool, next time.Duration) {
	if (l.Busy != nil && l.Busy()) || (l.Activity != nil && l.Activity.ActiveWithin(l.Window)) {
		l.Log.Debug("用户忙碌，推迟后台同步", "defer", l.Deferral)
		return false, l.Deferral
	}
	if err := l.Pull(ctx); err != nil {
		l.Log.Warn("后台同步失败", "error", err)
	} else {
		l.Log.Info("后台同步完成")
	}
	return true, l.Interval
}

// Run 阻塞运行直到 ctx 取消
func (l *IdleLoop) Run(ctx context.Context) {
	timer := time.NewTimer(l.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_, next := l.Attempt(ctx)
			timer.Reset(next)
		}
	}
}
