package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Database != "surgibot" {
		t.Errorf("Expected DB_NAME default 'surgibot', got '%s'", cfg.Database.Database)
	}

	if cfg.Monitor.SnapshotTopic != "surgibot/monitor/snapshot" {
		t.Errorf("Expected MONITOR_SNAPSHOT_TOPIC default 'surgibot/monitor/snapshot', got '%s'", cfg.Monitor.SnapshotTopic)
	}

	if cfg.Monitor.PollInterval != 3*time.Second {
		t.Errorf("Expected poll interval default 3s, got %v", cfg.Monitor.PollInterval)
	}

	if cfg.Sync.DebounceWindow != 2*time.Minute {
		t.Errorf("Expected SYNC_DEBOUNCE_WINDOW default 2m, got %v", cfg.Sync.DebounceWindow)
	}

	if cfg.Sync.QueueMode != "numeric" {
		t.Errorf("Expected SYNC_QUEUE_MODE default 'numeric', got '%s'", cfg.Sync.QueueMode)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("MONITOR_SNAPSHOT_TOPIC", "ornbh/monitor/snapshot")
	os.Setenv("SYNC_DEBOUNCE_WINDOW", "90s")
	os.Setenv("SYNC_QUEUE_MODE", "time_ordered")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("MONITOR_SNAPSHOT_TOPIC")
		os.Unsetenv("SYNC_DEBOUNCE_WINDOW")
		os.Unsetenv("SYNC_QUEUE_MODE")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Monitor.SnapshotTopic != "ornbh/monitor/snapshot" {
		t.Errorf("Expected MONITOR_SNAPSHOT_TOPIC 'ornbh/monitor/snapshot', got '%s'", cfg.Monitor.SnapshotTopic)
	}

	if cfg.Sync.DebounceWindow != 90*time.Second {
		t.Errorf("Expected SYNC_DEBOUNCE_WINDOW 90s, got %v", cfg.Sync.DebounceWindow)
	}

	if cfg.Sync.QueueMode != "time_ordered" {
		t.Errorf("Expected SYNC_QUEUE_MODE 'time_ordered', got '%s'", cfg.Sync.QueueMode)
	}
}

func TestLoad_InvalidQueueMode(t *testing.T) {
	os.Setenv("SYNC_QUEUE_MODE", "alphabetical")
	defer os.Unsetenv("SYNC_QUEUE_MODE")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid SYNC_QUEUE_MODE")
	}
}

func TestLoad_InvalidBackoff(t *testing.T) {
	os.Setenv("MONITOR_RECONNECT_MIN_DELAY", "10s")
	os.Setenv("MONITOR_RECONNECT_MAX_DELAY", "1s")
	defer func() {
		os.Unsetenv("MONITOR_RECONNECT_MIN_DELAY")
		os.Unsetenv("MONITOR_RECONNECT_MAX_DELAY")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when max delay < min delay")
	}
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "surgibot",
		SSLMode:  "disable",
	}
	want := "host=db-host port=5433 user=u password=p dbname=surgibot sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("Expected DSN '%s', got '%s'", want, got)
	}
}
