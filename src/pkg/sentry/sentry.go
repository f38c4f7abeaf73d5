// Package sentry 提供 Sentry 错误监控的轻量封装
//
// 未初始化或被禁用时所有操作都是空操作，调用方无需判断。
// Go/GoWithContext 提供带 panic 恢复的 goroutine 启动方式，
// 用于进度回调等绝不允许拖垮迁移主流程的旁路逻辑。
package sentry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var (
	mu          sync.RWMutex
	initialized bool
)

// Init 初始化 Sentry
// dsn 为空或 enabled 为 false 时不做任何事
func Init(dsn, release string, enabled bool) error {
	if !enabled || dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}
	mu.Lock()
	initialized = true
	mu.Unlock()
	logrus.Debug("sentry initialized")
	return nil
}

// IsInitialized 返回 Sentry 是否已初始化
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// Flush 等待事件发送完成
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// CaptureException 捕获异常
func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureMessage 捕获消息
func CaptureMessage(msg string) {
	if !IsInitialized() {
		return
	}
	sentry.CaptureMessage(msg)
}

// Recover 用于 goroutine 的 panic 恢复
// 必须先调用 recover() 再检查初始化状态，否则 panic 不会被捕获
func Recover() {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		if hub := sentry.CurrentHub(); hub != nil {
			hub.Recover(err)
		}
	}
	logrus.WithField("panic", err).Error("recovered from panic in background goroutine")
	// 不重新 panic，让 goroutine 优雅退出
}

// RecoverWithContext 用于 goroutine 的 panic 恢复（带 Context）
func RecoverWithContext(ctx context.Context) {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		if hub != nil {
			hub.RecoverWithContext(ctx, err)
		}
	}
	logrus.WithField("panic", err).Error("recovered from panic in background goroutine")
}

// Go 启动一个新的 goroutine 并自动添加 panic 恢复
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext 启动一个新的 goroutine 并自动添加 panic 恢复（带 Context）
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer RecoverWithContext(ctx)
		f(ctx)
	}()
}
