// Package reconcile 实现 presence 对账状态机
//
// 以权威的本地排程为准，消费 Monitor 快照流，为每个病例维护
// presence 历史，应用防抖/完成策略（"strike-through" 规则），
// 产生生命周期跃迁写入 Event Log 和 Schedule Store。
//
// 状态机（每病例）：
//
//	scheduled ──出现──▶ observed ──消失──▶ (窗口内暂态，不发跃迁)
//	                      ▲                    │ 消失 ≥ 防抖窗口
//	                      │重现                 ▼
//	                      └────────── grace_period ──术后起止已录──▶ completed(终态)
//
// 窗口内重现（flap）回到 observed，零跃迁；窗口已过但术后字段缺失
// 时停留在 grace_period 并标记 pending data，绝不自动完成。
// 从未在任何快照出现过的病例无论消失多久都不会被推进。
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/eventlog"
	"surgibot-sync/internal/queue"
	"surgibot-sync/internal/repository"

	"go.uber.org/zap"
)

// SettingsProvider 共享设置的只读访问（跨实例同步的队列模式/防抖覆盖）
type SettingsProvider interface {
	QueueMode(orRoomID string) domain.QueueMode
	DebounceWindow() time.Duration
}

// ViewSink 只读视图的对外发布口（Redis 镜像等；可为 nil）
type ViewSink interface {
	PublishViews(ctx context.Context, views []domain.CaseView) error
}

// caseState 单个病例的对账状态（仅事件循环协程触碰）
type caseState struct {
	c        *domain.Case
	presence domain.PresenceRecord

	// pendingData 防抖窗口已过但术后字段缺失
	pendingData bool
	// absenceSeq 本轮消失起始快照的序号（完成跃迁的因果序号）
	absenceSeq int64
	// gen 防抖代数：重现即递增，过期的定时器触发被忽略
	gen   uint64
	timer *time.Timer
}

type groupKey struct {
	orRoom string
	period domain.Period
}

// Reconciler presence 对账器
//
// 状态表只被事件循环协程修改，不加锁；对外通过 Views() 发布
// 批次后的只读快照副本
type Reconciler struct {
	cfg      *config.Config
	logger   *zap.Logger
	cases    repository.CasesRepository
	log      *eventlog.Log
	engine   *queue.Engine
	settings SettingsProvider
	sink     ViewSink

	table   map[string]*caseState
	lastSeq int64

	// pendingAppends 存储降级期间未能落盘的跃迁，复查周期幂等重试
	pendingAppends []domain.LifecycleTransition

	publishedViews publishedViews
	degraded       degradedFlag

	// 事件循环管线（runner.go）
	snapshots   <-chan domain.MonitorSnapshot
	timerEvents chan debounceExpiry

	// 注入点：测试用确定性时钟/定时器
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// debounceExpiry 某病例的防抖窗口到期事件
type debounceExpiry struct {
	caseID string
	gen    uint64
}

// NewReconciler 创建对账器
//
// snapshots 是 Feed Client 写入的有序快照通道；对账逻辑相对快照
// 应用是单线程的，Feed 的 I/O 与重连定时器与之并发运行
func NewReconciler(
	cfg *config.Config,
	cases repository.CasesRepository,
	log *eventlog.Log,
	engine *queue.Engine,
	settings SettingsProvider,
	sink ViewSink,
	snapshots <-chan domain.MonitorSnapshot,
	logger *zap.Logger,
) *Reconciler {
	r := &Reconciler{
		cfg:         cfg,
		logger:      logger,
		cases:       cases,
		log:         log,
		engine:      engine,
		settings:    settings,
		sink:        sink,
		table:       make(map[string]*caseState),
		snapshots:   snapshots,
		timerEvents: make(chan debounceExpiry, 64),
		now:         time.Now,
		afterFunc:   time.AfterFunc,
	}
	r.publishedViews.store(nil)
	return r
}

// loadSchedule 从 Schedule Store 装载当天排程
//
// 已在表中的病例只刷新排程字段，presence 状态保留（presence 历史
// 不落盘，进程重启后从实时流重建，everSeen 从 false 开始）
func (r *Reconciler) loadSchedule(ctx context.Context) error {
	cases, err := r.cases.ListByDate(ctx, r.now())
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	added := 0
	for _, c := range cases {
		if cs, ok := r.table[c.CaseID]; ok {
			status := cs.c.Status
			slot, overflow := cs.c.QueueSlot, cs.c.Overflow
			cs.c = c
			cs.c.Status = status
			cs.c.QueueSlot, cs.c.Overflow = slot, overflow
			continue
		}
		r.table[c.CaseID] = &caseState{c: c}
		added++
	}
	if added > 0 {
		r.logger.Info("Schedule loaded",
			zap.Int("cases_added", added),
			zap.Int("cases_total", len(r.table)),
		)
	}
	return nil
}

// applySnapshot 应用一帧快照（重复/过期序号为 no-op）
func (r *Reconciler) applySnapshot(ctx context.Context, snap domain.MonitorSnapshot) {
	if snap.Sequence <= r.lastSeq {
		r.logger.Debug("Ignoring duplicate snapshot",
			zap.Int64("seq", snap.Sequence),
			zap.Int64("last_seq", r.lastSeq),
		)
		return
	}
	r.lastSeq = snap.Sequence

	active := snap.ActiveSet()
	for id := range active {
		cs, ok := r.table[id]
		if !ok {
			// Monitor 报告了排程之外的标识，留给排程重载解决
			r.logger.Debug("Monitor reported unknown case", zap.String("case_id", id))
			continue
		}
		r.markPresent(ctx, cs, snap)
	}
	for _, cs := range r.table {
		if _, present := active[cs.c.CaseID]; present {
			continue
		}
		r.markAbsent(cs, snap)
	}

	r.publish(ctx)
}

// markPresent 病例出现在快照中
func (r *Reconciler) markPresent(ctx context.Context, cs *caseState, snap domain.MonitorSnapshot) {
	if cs.c.Status.Terminal() {
		// 逻辑异常：已完成的病例重新出现——拒绝回退，只记日志
		r.logger.Warn("Completed case reported active by monitor",
			zap.String("case_id", cs.c.CaseID),
			zap.Int64("seq", snap.Sequence),
		)
		return
	}

	seenAt := snap.ObservedAt
	cs.presence.EverSeen = true
	cs.presence.LastSeenAt = &seenAt

	if cs.presence.CurrentlyPresent {
		return
	}
	cs.presence.CurrentlyPresent = true
	cs.presence.LastAbsentSince = nil
	cs.pendingData = false
	cs.absenceSeq = 0
	r.cancelDebounce(cs)

	switch cs.c.Status {
	case domain.StatusScheduled:
		// 首次被 Monitor 观测到
		r.commitTransition(ctx, cs, domain.StatusObserved, snap.ObservedAt, domain.CauseSnapshot, snap.Sequence)
	case domain.StatusObserved:
		// 窗口内重现（flap）：状态未曾离开 observed，零跃迁
		r.logger.Debug("Case reappeared within debounce window",
			zap.String("case_id", cs.c.CaseID),
			zap.Int64("seq", snap.Sequence),
		)
	case domain.StatusGracePeriod:
		// 窗口已过后的重现：grace_period 是已提交状态，发回跃迁
		r.commitTransition(ctx, cs, domain.StatusObserved, snap.ObservedAt, domain.CauseSnapshot, snap.Sequence)
	}
}

// markAbsent 病例从快照中消失
//
// 只记录消失并安排防抖检查，不提交任何状态——从未被观测过的
// 病例无论消失多久都不会被推进
func (r *Reconciler) markAbsent(cs *caseState, snap domain.MonitorSnapshot) {
	if cs.c.Status.Terminal() || !cs.presence.CurrentlyPresent {
		return
	}
	absentAt := snap.ObservedAt
	cs.presence.CurrentlyPresent = false
	cs.presence.LastAbsentSince = &absentAt
	cs.absenceSeq = snap.Sequence
	r.scheduleDebounce(cs)
}

// scheduleDebounce 为当前这轮消失安排防抖到期检查
func (r *Reconciler) scheduleDebounce(cs *caseState) {
	r.cancelDebounce(cs)
	cs.gen++
	gen := cs.gen
	caseID := cs.c.CaseID

	window := r.settings.DebounceWindow()
	deadline := cs.presence.LastAbsentSince.Add(window)
	delay := deadline.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	cs.timer = r.afterFunc(delay, func() {
		select {
		case r.timerEvents <- debounceExpiry{caseID: caseID, gen: gen}:
		default:
			// 通道满时丢弃：复查周期会兜底完成同样的检查
		}
	})
}

// cancelDebounce 病例重现时废弃防抖定时器，晚到的触发按代数忽略
func (r *Reconciler) cancelDebounce(cs *caseState) {
	cs.gen++
	if cs.timer != nil {
		cs.timer.Stop()
		cs.timer = nil
	}
}

// handleDebounceExpiry 防抖窗口到期
func (r *Reconciler) handleDebounceExpiry(ctx context.Context, ev debounceExpiry) {
	cs, ok := r.table[ev.caseID]
	if !ok || ev.gen != cs.gen {
		return // 过期代数：病例已重现或已重新安排
	}
	r.maybeComplete(ctx, cs, domain.CauseDebounceExpired)
	r.publish(ctx)
}

// maybeComplete 检查并推进"消失已超窗"的病例
//
// 完成（strike-through）同时需要：(a) 消失持续 ≥ 防抖窗口；
// (b) Schedule Store 中术后起止时间都已补录。(b) 不满足时停留
// grace_period 并标记 pending data
func (r *Reconciler) maybeComplete(ctx context.Context, cs *caseState, cause domain.TransitionCause) {
	if cs.c.Status.Terminal() || !cs.presence.EverSeen || cs.presence.CurrentlyPresent {
		return
	}
	absentSince := cs.presence.LastAbsentSince
	if absentSince == nil {
		return
	}
	deadline := absentSince.Add(r.settings.DebounceWindow())
	if r.now().Before(deadline) {
		return
	}

	// 存储降级期间 observed 可能未提交（状态仍是 scheduled 但
	// everSeen 已置位）：先补齐 observed，完成只能经由 grace_period 到达
	if cs.c.Status == domain.StatusScheduled {
		at := *absentSince
		if cs.presence.LastSeenAt != nil {
			at = *cs.presence.LastSeenAt
		}
		if !r.commitTransition(ctx, cs, domain.StatusObserved, at, domain.CauseSnapshot, r.lastSeq) {
			return
		}
	}

	// 窗口已过：先提交 grace_period（此前只是暂态，flap 不发跃迁）
	if cs.c.Status == domain.StatusObserved {
		if !r.commitTransition(ctx, cs, domain.StatusGracePeriod, *absentSince, cause, cs.absenceSeq) {
			return // 写入失败，状态保持原值，复查周期重试
		}
	}

	fields, err := r.cases.ReadPostOpFields(ctx, cs.c.CaseID)
	if err != nil {
		r.logger.Warn("Failed to read postop fields",
			zap.String("case_id", cs.c.CaseID),
			zap.Error(err),
		)
		return
	}
	if !fields.Complete() {
		if !cs.pendingData {
			cs.pendingData = true
			r.logger.Info("Case absent beyond debounce window, awaiting postop data",
				zap.String("case_id", cs.c.CaseID),
				zap.String("or_room", cs.c.ORRoomID),
			)
		}
		return
	}

	// 完成时刻：窗口到期即满足条件时取 absence+window；
	// 术后数据晚于窗口补录时取复查时刻
	at := deadline
	if now := r.now(); cs.pendingData && now.After(deadline) {
		at = now
	}
	if r.commitTransition(ctx, cs, domain.StatusCompleted, at, cause, cs.absenceSeq) {
		cs.pendingData = false
	}
}

// commitTransition 提交一次状态跃迁：Schedule Store 写入 + Event Log 追加
//
// 存储写入带有界重试；耗尽后内存状态回滚到先前值（变更悬置），
// 健康信号降级，由后续事件/复查重新触发。返回是否提交成功
func (r *Reconciler) commitTransition(ctx context.Context, cs *caseState, to domain.CaseStatus, at time.Time, cause domain.TransitionCause, causeSeq int64) bool {
	from := cs.c.Status
	if from.Terminal() {
		r.logger.Warn("Rejected transition for completed case",
			zap.String("case_id", cs.c.CaseID),
			zap.String("to_status", string(to)),
		)
		return false
	}

	if err := r.retryWrite(ctx, func() error {
		return r.cases.WriteStatus(ctx, cs.c.CaseID, to, at)
	}); err != nil {
		r.degraded.set(fmt.Sprintf("status write failed for case %s: %v", cs.c.CaseID, err))
		r.logger.Error("Status write failed, holding transition pending",
			zap.String("case_id", cs.c.CaseID),
			zap.String("from_status", string(from)),
			zap.String("to_status", string(to)),
			zap.Error(err),
		)
		return false
	}
	cs.c.Status = to

	t := domain.NewTransition(cs.c.CaseID, from, to, at, cause, causeSeq)
	if err := r.retryWrite(ctx, func() error {
		return r.log.Append(ctx, t)
	}); err != nil {
		// 状态已落盘；追加留待复查周期幂等重试
		r.pendingAppends = append(r.pendingAppends, t)
		r.degraded.set(fmt.Sprintf("event log append failed for case %s: %v", cs.c.CaseID, err))
		r.logger.Error("Event log append failed, queued for retry",
			zap.String("case_id", cs.c.CaseID),
			zap.String("transition_id", t.TransitionID),
			zap.Error(err),
		)
		return true
	}

	r.degraded.clear()
	return true
}

// retryWrite 有界重试：初始退避逐次翻倍
func (r *Reconciler) retryWrite(ctx context.Context, fn func() error) error {
	var err error
	backoff := r.cfg.Sync.StoreWriteBackoff
	attempts := r.cfg.Sync.StoreWriteRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// recheck 周期复查
//
// 1) 幂等重试悬置的 Event Log 追加；2) 重载排程（发现新病例与
// 补录）；3) 对所有超窗病例重跑完成检查（术后补录发生在实时流之外）
func (r *Reconciler) recheck(ctx context.Context) {
	r.flushPendingAppends(ctx)

	if err := r.loadSchedule(ctx); err != nil {
		r.logger.Warn("Schedule reload failed", zap.Error(err))
	}

	for _, cs := range r.table {
		// 存储降级期间未能提交的"在台"状态，复查时补提交
		if cs.presence.CurrentlyPresent && !cs.c.Status.Terminal() && cs.c.Status != domain.StatusObserved {
			at := r.now()
			if cs.presence.LastSeenAt != nil {
				at = *cs.presence.LastSeenAt
			}
			r.commitTransition(ctx, cs, domain.StatusObserved, at, domain.CauseSnapshot, r.lastSeq)
			continue
		}
		r.maybeComplete(ctx, cs, domain.CausePostOpRecheck)
	}
	r.publish(ctx)
}

// flushPendingAppends 重试降级期间悬置的追加（Append 幂等，重复无害）
func (r *Reconciler) flushPendingAppends(ctx context.Context) {
	if len(r.pendingAppends) == 0 {
		return
	}
	remaining := r.pendingAppends[:0]
	for _, t := range r.pendingAppends {
		if err := r.log.Append(ctx, t); err != nil {
			remaining = append(remaining, t)
		}
	}
	r.pendingAppends = remaining
	if len(r.pendingAppends) == 0 {
		r.degraded.clear()
	}
}

// publish 批次后发布：队列重算 + 只读视图原子换出 + 对外镜像
//
// 队列引擎在对账协程内同步运行，不与状态机并发
func (r *Reconciler) publish(ctx context.Context) {
	r.recomputeQueues(ctx)

	views := make([]domain.CaseView, 0, len(r.table))
	now := r.now()
	for _, cs := range r.table {
		views = append(views, domain.CaseView{
			CaseID:      cs.c.CaseID,
			ORRoomID:    cs.c.ORRoomID,
			Period:      cs.c.Period,
			ScheduledAt: cs.c.ScheduledAt,
			Status:      cs.c.Status,
			Presence:    cs.presence,
			QueueSlot:   cs.c.QueueSlot,
			Overflow:    cs.c.Overflow,
			PendingData: cs.pendingData,
			UpdatedAt:   now,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ORRoomID != views[j].ORRoomID {
			return views[i].ORRoomID < views[j].ORRoomID
		}
		if !views[i].ScheduledAt.Equal(views[j].ScheduledAt) {
			return views[i].ScheduledAt.Before(views[j].ScheduledAt)
		}
		return views[i].CaseID < views[j].CaseID
	})
	r.publishedViews.store(views)

	if r.sink != nil {
		if err := r.sink.PublishViews(ctx, views); err != nil {
			r.logger.Warn("Failed to publish case views", zap.Error(err))
		}
	}
}

// recomputeQueues 对每个 (OR, 时段) 组重算队列位并回写变化项
func (r *Reconciler) recomputeQueues(ctx context.Context) {
	groups := make(map[groupKey][]*domain.Case)
	for _, cs := range r.table {
		key := groupKey{orRoom: cs.c.ORRoomID, period: cs.c.Period}
		if cs.c.Status.Terminal() {
			// 完成的病例离开活跃集并释放队列位
			if groups[key] == nil {
				groups[key] = []*domain.Case{}
			}
			continue
		}
		groups[key] = append(groups[key], cs.c)
	}

	for key, active := range groups {
		mode := r.settings.QueueMode(key.orRoom)
		changed := r.engine.Recompute(key.orRoom, key.period, mode, active)
		for _, a := range changed {
			if err := r.retryWrite(ctx, func() error {
				return r.cases.WriteQueueAssignment(ctx, a.CaseID, a.Slot, a.Overflow)
			}); err != nil {
				r.degraded.set(fmt.Sprintf("queue write failed for case %s: %v", a.CaseID, err))
				r.logger.Error("Queue assignment write failed",
					zap.String("case_id", a.CaseID),
					zap.Error(err),
				)
				continue
			}
			if cs, ok := r.table[a.CaseID]; ok {
				cs.c.QueueSlot = a.Slot
				cs.c.Overflow = a.Overflow
			}
		}
	}
}

// Views 最近一次发布的只读视图（副本，读取方不会看到撕裂的状态表）
func (r *Reconciler) Views() []domain.CaseView {
	return r.publishedViews.load()
}

// Degraded 存储降级信号
func (r *Reconciler) Degraded() (bool, string) {
	return r.degraded.get()
}
