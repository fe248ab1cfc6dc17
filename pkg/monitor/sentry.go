package monitor

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/social-core/config"
)

// InitSentry DSN 为空时不启用，Capture* 调用变为空操作
func InitSentry(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		SampleRate:       cfg.SampleRate,
		AttachStacktrace: true,
	})
}

func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// CaptureError 上报错误，tags 作为事件标签
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// CaptureMessage 用于非 error 的异常状态（如对账发现的不一致）
func CaptureMessage(ctx context.Context, msg string, tags map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureMessage(msg)
	})
}
