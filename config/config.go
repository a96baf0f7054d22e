package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxCPUs bounds CPU ids accepted in cpu_affinity (the kernel cpu_set_t size).
const MaxCPUs = 1024

const (
	ModeHTTP   = "http"
	ModeLambda = "lambda"
	ModeAuto   = "auto"
)

type Config struct {
	Addr           string        `yaml:"addr"`
	Mode           string        `yaml:"mode"`
	ModelPath      string        `yaml:"model_path"`
	ORTLibrary     string        `yaml:"ort_library"`
	LabelsPath     string        `yaml:"labels_path"`
	PoolSize       int           `yaml:"pool_size"`
	IntraOpThreads int           `yaml:"intra_op_threads"`
	InterOpThreads int           `yaml:"inter_op_threads"`
	CPUAffinity    string        `yaml:"cpu_affinity"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	MaxPixels      int64         `yaml:"max_pixels"`
	Debug          bool          `yaml:"debug"`
	LogFormat      string        `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		Addr:           "127.0.0.1:8080",
		Mode:           ModeAuto,
		ModelPath:      "best.onnx",
		ORTLibrary:     defaultLibrary(),
		PoolSize:       4,
		AcquireTimeout: 5 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxBodyBytes:   32 << 20,
		MaxPixels:      50_000_000,
		LogFormat:      "text",
	}
}

func defaultLibrary() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Load reads .env, then the YAML file named by CONFIG_FILE (or config.yaml
// when present), then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ADDR":         &c.Addr,
		"MODE":         &c.Mode,
		"MODEL_PATH":   &c.ModelPath,
		"ORT_LIBRARY":  &c.ORTLibrary,
		"LABELS_PATH":  &c.LabelsPath,
		"CPU_AFFINITY": &c.CPUAffinity,
		"LOG_FORMAT":   &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POOL_SIZE":        &c.PoolSize,
		"INTRA_OP_THREADS": &c.IntraOpThreads,
		"INTER_OP_THREADS": &c.InterOpThreads,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	int64s := map[string]*int64{
		"MAX_BODY_BYTES": &c.MaxBodyBytes,
		"MAX_PIXELS":     &c.MaxPixels,
	}
	for key, dst := range int64s {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"ACQUIRE_TIMEOUT": &c.AcquireTimeout,
		"READ_TIMEOUT":    &c.ReadTimeout,
		"WRITE_TIMEOUT":   &c.WriteTimeout,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("DEBUG"); ok {
		c.Debug = v == "true"
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHTTP, ModeLambda, ModeAuto:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("acquire_timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if _, err := ParseCPUList(c.CPUAffinity); err != nil {
		return fmt.Errorf("cpu_affinity: %w", err)
	}
	return nil
}

// ResolveMode turns ModeAuto into a concrete mode.
func (c *Config) ResolveMode() string {
	if c.Mode != ModeAuto {
		return c.Mode
	}
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		return ModeLambda
	}
	return ModeHTTP
}

// ParseCPUList parses lists like "0-2,5". An empty string yields nil.
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cpus []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")

		first, err := strconv.Atoi(lo)
		if err != nil || first < 0 {
			return nil, fmt.Errorf("invalid cpu %q", part)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(hi)
			if err != nil || last < first {
				return nil, fmt.Errorf("invalid cpu range %q", part)
			}
		}
		if last >= MaxCPUs {
			return nil, fmt.Errorf("cpu %d out of range, must be below %d", last, MaxCPUs)
		}

		for cpu := first; cpu <= last; cpu++ {
			if !seen[cpu] {
				seen[cpu] = true
				cpus = append(cpus, cpu)
			}
		}
	}
	return cpus, nil
}
