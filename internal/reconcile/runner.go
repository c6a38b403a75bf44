package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"surgibot-sync/internal/domain"

	"go.uber.org/zap"
)

// Start 装载当天排程并启动事件循环
//
// 快照、防抖到期与复查 tick 都经由同一个循环处理，状态表因此
// 无锁地保持单写者
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.loadSchedule(ctx); err != nil {
		return err
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)

	r.logger.Info("Presence reconciler started",
		zap.Int("cases", len(r.table)),
		zap.Duration("debounce_window", r.settings.DebounceWindow()),
	)
	return nil
}

// Stop 停止事件循环
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// loop 事件循环：对状态表的唯一写入方
func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Sync.PostOpRecheckInterval)
	defer ticker.Stop()

	r.publish(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-r.snapshots:
			if !ok {
				return
			}
			r.applySnapshot(ctx, snap)
		case ev := <-r.timerEvents:
			r.handleDebounceExpiry(ctx, ev)
		case <-ticker.C:
			r.recheck(ctx)
		}
	}
}

// publishedViews 原子发布的只读视图副本
type publishedViews struct {
	v atomic.Value // []domain.CaseView
}

func (p *publishedViews) store(views []domain.CaseView) {
	p.v.Store(views)
}

func (p *publishedViews) load() []domain.CaseView {
	if v, ok := p.v.Load().([]domain.CaseView); ok {
		return v
	}
	return nil
}

// degradedFlag 存储降级信号（事件循环写，任意协程读）
type degradedFlag struct {
	mu  sync.RWMutex
	on  bool
	msg string
}

func (d *degradedFlag) set(msg string) {
	d.mu.Lock()
	d.on = true
	d.msg = msg
	d.mu.Unlock()
}

func (d *degradedFlag) clear() {
	d.mu.Lock()
	d.on = false
	d.msg = ""
	d.mu.Unlock()
}

func (d *degradedFlag) get() (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.on, d.msg
}
