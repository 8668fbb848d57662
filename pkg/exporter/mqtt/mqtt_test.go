package mqtt

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TopicPrefix != "posehost" {
		t.Errorf("topic prefix = %q, want posehost", cfg.TopicPrefix)
	}
	if cfg.QOS != 0 {
		t.Errorf("qos = %d, want 0 (pose-rate traffic tolerates drops)", cfg.QOS)
	}
	if cfg.ConnectTimeout <= 0 {
		t.Error("connect timeout must be positive")
	}
}
