package orchestrator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// BatchResult 批量迁移中单个存储的结果
type BatchResult struct {
	// StoreLocation 存储位置标识
	StoreLocation string `json:"store_location"`
	// Result 迁移结果，失败时为 nil
	Result *MigrationResult `json:"result,omitempty"`
	// Err 失败原因
	Err error `json:"-"`
}

// BatchMigrator 对多个相互独立的存储执行同一迁移
//
// 并发上限取各编排器配置的 BatchSize 中的最大值（最小为 1）。
// 每个存储由各自的编排器独占驱动，单存储的单飞语义不受批量执行影响；
// 多个编排器共享同一个 Recorder 时由其内部锁保证累计安全。
type BatchMigrator struct {
	orchestrators []*Orchestrator
	logger        *logrus.Entry
}

// NewBatchMigrator 创建批量迁移器
func NewBatchMigrator(orchestrators []*Orchestrator) *BatchMigrator {
	return &BatchMigrator{
		orchestrators: orchestrators,
		logger:        logrus.WithField("component", "batch_migrator"),
	}
}

// concurrency 计算批量执行的并发上限
func (b *BatchMigrator) concurrency() int {
	n := 1
	for _, o := range b.orchestrators {
		if o.config.BatchSize > n {
			n = o.config.BatchSize
		}
	}
	if n > len(b.orchestrators) {
		n = len(b.orchestrators)
	}
	return n
}

// MigrateAll 并发迁移全部存储，返回与输入顺序一致的结果
//
// 单个存储失败不影响其它存储继续迁移；调用方通过结果列表逐个检查
func (b *BatchMigrator) MigrateAll(ctx context.Context, handler ProgressFunc) []*BatchResult {
	results := make([]*BatchResult, len(b.orchestrators))
	if len(b.orchestrators) == 0 {
		return results
	}

	sem := make(chan struct{}, b.concurrency())
	var wg sync.WaitGroup
	for i, o := range b.orchestrators {
		wg.Add(1)
		go func(idx int, orc *Orchestrator) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := &BatchResult{StoreLocation: orc.adapter.Location()}
			res.Result, res.Err = orc.Migrate(ctx, handler)
			if res.Err != nil {
				b.logger.WithError(res.Err).WithField("store_location", res.StoreLocation).
					Error("batch migration failed for store")
			}
			results[idx] = res
		}(i, o)
	}
	wg.Wait()

	return results
}
