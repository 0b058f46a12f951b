package task

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Runner 承载与请求响应路径解耦的后台任务（典型如缓存后台刷新）。
// 契约：任务错误在此被记录并丢弃，绝不回传给任何请求方；任务 panic
// 同样被吸收。Wait 仅供关停与测试同步使用。
type Runner struct {
	logger *logrus.Logger
	wg     sync.WaitGroup
}

// NewRunner 构造后台任务执行器，logger 不能为空。
func NewRunner(logger *logrus.Logger) *Runner {
	return &Runner{logger: logger}
}

// Go 派发一个命名后台任务并立即返回。
func (r *Runner) Go(name string, fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.WithFields(logrus.Fields{
					"action": "background_task",
					"task":   name,
					"panic":  recovered,
				}).Error("background_task_panic")
			}
		}()

		if err := fn(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"action": "background_task",
				"task":   name,
			}).WithError(err).Debug("background_task_failed")
		}
	}()
}

// Wait 阻塞直到所有已派发任务完成。
func (r *Runner) Wait() {
	r.wg.Wait()
}
