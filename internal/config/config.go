// Package config loads and validates the configuration files for masters
// and workers (spec §6). A malformed or missing config file is a startup
// failure (spec §7): LoadMaster/LoadWorker return an error, and cmd/master, cmd/worker
// translate that into a non-zero exit code without retrying.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Peer describes a configured peer master (spec §3: "a peer descriptor is
// {id, ip, port}").
type Peer struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	IP   string `json:"ip" yaml:"ip" validate:"required,ip"`
	Port int    `json:"port" yaml:"port" validate:"required,gt=0,lt=65536"`
}

// SupervisorInfo is the dial target for the supervisor telemetry sink.
type SupervisorInfo struct {
	IP   string `json:"ip" yaml:"ip" validate:"required,ip"`
	Port int    `json:"port" yaml:"port" validate:"required,gt=0,lt=65536"`
}

// Timing holds the heartbeat/monitor/load-balancer interval knobs (spec §6).
type Timing struct {
	HeartbeatIntervalSeconds    float64 `json:"heartbeat_interval" yaml:"heartbeat_interval" validate:"required,gt=0"`
	HeartbeatTimeoutSeconds     float64 `json:"heartbeat_timeout" yaml:"heartbeat_timeout" validate:"required,gt=0"`
	HeartbeatRetries            int     `json:"heartbeat_retries" yaml:"heartbeat_retries" validate:"required,gt=0"`
	HeartbeatRetryDelaySeconds   float64 `json:"heartbeat_retry_delay" yaml:"heartbeat_retry_delay" validate:"required,gt=0"`
	HeartbeatBackoffFactor       float64 `json:"heartbeat_backoff_factor" yaml:"heartbeat_backoff_factor" validate:"required,gt=1"`
	HeartbeatMaxDelaySeconds     float64 `json:"heartbeat_max_delay" yaml:"heartbeat_max_delay" validate:"required,gt=0"`
	HeartbeatJitterFrac          float64 `json:"heartbeat_jitter_frac" yaml:"heartbeat_jitter_frac" validate:"gte=0,lt=1"`
	LoadBalancerIntervalSeconds  float64 `json:"load_balancer_interval" yaml:"load_balancer_interval" validate:"required,gt=0"`
}

func (t Timing) HeartbeatInterval() time.Duration {
	return durationFromSeconds(t.HeartbeatIntervalSeconds)
}
func (t Timing) HeartbeatTimeout() time.Duration {
	return durationFromSeconds(t.HeartbeatTimeoutSeconds)
}
func (t Timing) HeartbeatRetryDelay() time.Duration {
	return durationFromSeconds(t.HeartbeatRetryDelaySeconds)
}
func (t Timing) HeartbeatMaxDelay() time.Duration {
	return durationFromSeconds(t.HeartbeatMaxDelaySeconds)
}
func (t Timing) LoadBalancerInterval() time.Duration {
	return durationFromSeconds(t.LoadBalancerIntervalSeconds)
}

// LoadBalancing holds the §4.7/§4.4 thresholds.
type LoadBalancing struct {
	MinQueueThreshold       int     `json:"min_queue_threshold" yaml:"min_queue_threshold" validate:"gte=0"`
	MaxQueueThreshold       int     `json:"max_queue_threshold" yaml:"max_queue_threshold" validate:"required,gtfield=MinQueueThreshold"`
	MinWorkersBeforeSharing int     `json:"min_workers_before_sharing" yaml:"min_workers_before_sharing" validate:"gte=0"`
	ThresholdWindowSeconds  float64 `json:"threshold_window" yaml:"threshold_window" validate:"required,gt=0"`
	ThresholdMinTasks       int     `json:"threshold_min_tasks" yaml:"threshold_min_tasks" validate:"gte=0"`
}

func (l LoadBalancing) ThresholdWindow() time.Duration {
	return durationFromSeconds(l.ThresholdWindowSeconds)
}

// Supervisor holds the supervisor reporting cadence and target.
type Supervisor struct {
	SupervisorIntervalSeconds float64        `json:"supervisor_interval" yaml:"supervisor_interval" validate:"required,gt=0"`
	SupervisorInfo            SupervisorInfo `json:"supervisor_info" yaml:"supervisor_info" validate:"required"`
}

func (s Supervisor) SupervisorInterval() time.Duration {
	return durationFromSeconds(s.SupervisorIntervalSeconds)
}

// Master is the full configuration for a master process (spec §6).
type Master struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	IP            string        `json:"ip" yaml:"ip" validate:"required,ip"`
	Port          int           `json:"port" yaml:"port" validate:"required,gt=0,lt=65536"`
	Peers         []Peer        `json:"peers" yaml:"peers" validate:"dive"`
	Timing        Timing        `json:"timing" yaml:"timing" validate:"required"`
	LoadBalancing LoadBalancing `json:"load_balancing" yaml:"load_balancing" validate:"required"`
	Supervisor    Supervisor    `json:"supervisor" yaml:"supervisor" validate:"required"`
}

// ListenAddr formats the bind address for net.Listen.
func (m Master) ListenAddr() string {
	return fmt.Sprintf("%s:%d", m.IP, m.Port)
}

// HomeMaster identifies a worker's home (spec §3: "home = {id, ip, port}").
type HomeMaster struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	IP   string `json:"ip" yaml:"ip" validate:"required,ip"`
	Port int    `json:"port" yaml:"port" validate:"required,gt=0,lt=65536"`
}

// Worker is the full configuration for a worker process (spec §6).
type Worker struct {
	WorkerID              string     `json:"worker_id" yaml:"worker_id"`
	HomeMaster            HomeMaster `json:"home_master" yaml:"home_master" validate:"required"`
	ReconnectDelaySeconds float64    `json:"reconnect_delay" yaml:"reconnect_delay" validate:"required,gt=0"`
}

func (w Worker) ReconnectDelay() time.Duration {
	return durationFromSeconds(w.ReconnectDelaySeconds)
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var validate = validator.New()

// LoadMaster reads and validates a master config file.
func LoadMaster(path string) (*Master, error) {
	var m Master
	if err := loadConfigFile(path, &m); err != nil {
		return nil, err
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("config: invalid master config %s: %w", path, err)
	}
	return &m, nil
}

// LoadWorker reads and validates a worker config file.
func LoadWorker(path string) (*Worker, error) {
	var w Worker
	if err := loadConfigFile(path, &w); err != nil {
		return nil, err
	}
	if err := validate.Struct(&w); err != nil {
		return nil, fmt.Errorf("config: invalid worker config %s: %w", path, err)
	}
	return &w, nil
}

// loadConfigFile reads path and decodes it into v. JSON is the normative
// format per spec §6; a .yaml/.yml extension is decoded as YAML instead,
// for operators who prefer hand-editing deployment manifests that way.
func loadConfigFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("config: parsing %s: %w", path, err)
		}
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}
