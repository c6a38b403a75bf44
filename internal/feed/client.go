// Package feed 维护到 Monitor 数据源的一条逻辑连接
//
// 主通道为 MQTT 订阅（retained 全量快照主题），断线重连的指数退避
// 由本客户端自己掌控（不使用 paho 的自动重连）；MQTT 断线期间由
// HTTP 轮询兜底。两条路径共享同一个序号门，保证快照按到达顺序、
// 不重复地交给 Reconciler。
package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client Monitor 数据源客户端
type Client struct {
	cfg    *config.Config
	logger *zap.Logger
	out    chan<- domain.MonitorSnapshot
	gate   *SequenceGate

	health atomic.Value // domain.FeedHealth

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient 创建 Monitor 客户端
func NewClient(cfg *config.Config, out chan<- domain.MonitorSnapshot, gate *SequenceGate, logger *zap.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		out:    out,
		gate:   gate,
	}
	c.health.Store(domain.FeedHealth{State: domain.FeedDisconnected})
	return c
}

// Start 启动连接/重连循环
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
}

// Stop 确定性停止：关闭连接并终止重连循环，不留下孤儿重连尝试
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.setHealth(domain.FeedHealth{State: domain.FeedDisconnected})
}

// Health 当前健康信号
func (c *Client) Health() domain.FeedHealth {
	return c.health.Load().(domain.FeedHealth)
}

func (c *Client) setHealth(h domain.FeedHealth) {
	c.health.Store(h)
}

// run 连接/重连主循环（唯一持有 MQTT 连接的协程）
func (c *Client) run() {
	defer c.wg.Done()

	backoff := NewBackoff(
		c.cfg.Monitor.ReconnectMinDelay,
		c.cfg.Monitor.ReconnectMaxDelay,
		c.cfg.Monitor.ReconnectMultiplier,
	)
	attempt := 0

	for {
		if c.ctx.Err() != nil {
			return
		}

		attempt++
		client, lost, err := c.connect()
		if err != nil {
			if !c.waitBackoff(backoff, attempt, err) {
				return
			}
			continue
		}

		connectedAt := time.Now()
		attempt = 0
		c.setHealth(domain.FeedHealth{State: domain.FeedConnected})
		c.logger.Info("Monitor feed connected",
			zap.String("broker", c.cfg.MQTT.Broker),
			zap.String("topic", c.cfg.Monitor.SnapshotTopic),
		)

		select {
		case <-c.ctx.Done():
			client.Disconnect(250)
			return
		case lostErr := <-lost:
			client.Disconnect(250)
			c.logger.Warn("Monitor feed connection lost", zap.Error(lostErr))

			// 连接存活足够久，退避从最小值重新开始
			if time.Since(connectedAt) >= c.cfg.Monitor.SustainedConnectionResetThreshold {
				backoff.Reset()
			}
			attempt++
			if !c.waitBackoff(backoff, attempt, lostErr) {
				return
			}
		}
	}
}

// waitBackoff 发布 Reconnecting 健康状态并等待退避；ctx 取消时返回 false
func (c *Client) waitBackoff(backoff *Backoff, attempt int, cause error) bool {
	delay := backoff.Next()
	next := time.Now().Add(delay)
	h := domain.FeedHealth{
		State:           domain.FeedReconnecting,
		Attempt:         attempt,
		NextReconnectAt: &next,
	}
	if cause != nil {
		h.LastError = cause.Error()
	}
	c.setHealth(h)
	c.logger.Info("Monitor feed reconnecting",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// connect 建立一次 MQTT 连接并订阅快照主题
//
// 返回的 lost channel 在连接丢失时收到一次错误
func (c *Client) connect() (mqtt.Client, <-chan error, error) {
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.MQTT.Broker)
	opts.SetClientID(c.cfg.MQTT.ClientID)
	if c.cfg.MQTT.Username != "" {
		opts.SetUsername(c.cfg.MQTT.Username)
	}
	if c.cfg.MQTT.Password != "" {
		opts.SetPassword(c.cfg.MQTT.Password)
	}
	// 重连退避策略是本子系统的契约，不交给 paho 自动重连
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("failed to connect to monitor broker: %w", token.Error())
	}

	if token := client.Subscribe(c.cfg.Monitor.SnapshotTopic, c.cfg.MQTT.QoS, c.onMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, nil, fmt.Errorf("failed to subscribe to snapshot topic: %w", token.Error())
	}

	// 请求一次全量快照（快照主题为 retained 时订阅即收到最近一帧，
	// 该请求让 Monitor 端立即再发一帧新的）
	if token := client.Publish(c.cfg.Monitor.RequestTopic, c.cfg.MQTT.QoS, false, []byte(c.cfg.MQTT.ClientID)); token.Wait() && token.Error() != nil {
		c.logger.Warn("Failed to publish snapshot request", zap.Error(token.Error()))
	}

	return client, lost, nil
}

// onMessage 处理一帧快照
//
// 非法帧丢弃并记日志，不影响已有 presence 状态，也绝不会
// 被当成"空快照"；过期/重复序号在序号门丢弃
func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	snapshot, err := ParseFrame(msg.Payload())
	if err != nil {
		c.logger.Warn("Dropping malformed monitor frame",
			zap.String("topic", msg.Topic()),
			zap.Int("payload_size", len(msg.Payload())),
			zap.Error(err),
		)
		return
	}
	if !c.gate.Admit(snapshot.Sequence) {
		c.logger.Debug("Dropping stale monitor frame",
			zap.Int64("seq", snapshot.Sequence),
			zap.Int64("last_seq", c.gate.LastSeq()),
		)
		return
	}

	select {
	case c.out <- snapshot:
	case <-c.ctx.Done():
	}
}
