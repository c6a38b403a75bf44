package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// snapshotPath Monitor HTTP API 的全量快照端点
const snapshotPath = "/api/v1/monitor/snapshot"

// Poller HTTP 轮询兜底
//
// MQTT 断线期间按固定间隔向 Monitor HTTP API 拉取全量快照；
// 帧经过与 MQTT 相同的序号门，重连后的重复帧自动丢弃
type Poller struct {
	cfg      *config.Config
	logger   *zap.Logger
	out      chan<- domain.MonitorSnapshot
	gate     *SequenceGate
	healthFn func() domain.FeedHealth
	rest     *resty.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller 创建轮询兜底
func NewPoller(cfg *config.Config, out chan<- domain.MonitorSnapshot, gate *SequenceGate, healthFn func() domain.FeedHealth, logger *zap.Logger) *Poller {
	rest := resty.New().
		SetBaseURL(cfg.Monitor.HTTPBaseURL).
		SetTimeout(5 * time.Second).
		SetHeader("Accept", "application/json")

	return &Poller{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		gate:     gate,
		healthFn: healthFn,
		rest:     rest,
	}
}

// Start 启动轮询循环
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop 停止轮询
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Monitor.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// MQTT 在线时不轮询
			if p.healthFn().State == domain.FeedConnected {
				continue
			}
			snapshot, err := p.fetch(ctx)
			if err != nil {
				p.logger.Debug("Monitor poll failed", zap.Error(err))
				continue
			}
			if !p.gate.Admit(snapshot.Sequence) {
				continue
			}
			select {
			case p.out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fetch 拉取一帧全量快照
func (p *Poller) fetch(ctx context.Context) (domain.MonitorSnapshot, error) {
	resp, err := p.rest.R().SetContext(ctx).Get(snapshotPath)
	if err != nil {
		return domain.MonitorSnapshot{}, fmt.Errorf("failed to poll monitor snapshot: %w", err)
	}
	if resp.StatusCode() != 200 {
		return domain.MonitorSnapshot{}, fmt.Errorf("monitor snapshot poll returned status %d", resp.StatusCode())
	}
	return ParseFrame(resp.Body())
}
