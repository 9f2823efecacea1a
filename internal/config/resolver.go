package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/casegraph/internal/similarity"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

const (
	DefaultProject      = "default"
	DefaultLogMode      = "dev"
	DefaultPolicy       = "auto"
	DefaultUndoCapacity = 20
	DefaultHTTPPort     = 8780
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIDBPath  string
	CLIProject string
	CLIPolicy  string
	CLILog     string
	CLIPort    string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath       ResolvedValue `json:"db_path"`
	Project      ResolvedValue `json:"project"`
	LogMode      ResolvedValue `json:"log_mode"`
	Policy       ResolvedValue `json:"policy"`
	UndoCapacity ResolvedValue `json:"undo_capacity"`
	HTTPPort     ResolvedValue `json:"http_port"`

	Thresholds           similarity.Thresholds `json:"thresholds"`
	AutoLinkHypothetical bool                  `json:"auto_link_hypothetical"`
}

type fileConfig struct {
	DBPath       string `yaml:"db_path"`
	Project      string `yaml:"project"`
	Log          string `yaml:"log"`
	UndoCapacity int    `yaml:"undo_capacity"`
	HTTPPort     int    `yaml:"http_port"`
	Resolve      struct {
		Policy               string `yaml:"policy"`
		AutoLinkHypothetical *bool  `yaml:"auto_link_hypothetical"`

		similarity.Thresholds `yaml:",inline"`
	} `yaml:"resolve"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".casegraph", "config.yaml")
}

func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".casegraph", "casegraph.db")
}

// ResolveConfig layers built-in defaults, the YAML file, environment
// variables and CLI flags, in that order of increasing precedence.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:           path,
		DBPath:               ResolvedValue{Value: DefaultDBPath(), Source: SourceDefault, From: "built-in default"},
		Project:              ResolvedValue{Value: DefaultProject, Source: SourceDefault, From: "built-in default"},
		LogMode:              ResolvedValue{Value: DefaultLogMode, Source: SourceDefault, From: "built-in default"},
		Policy:               ResolvedValue{Value: DefaultPolicy, Source: SourceDefault, From: "built-in default"},
		UndoCapacity:         ResolvedValue{Value: strconv.Itoa(DefaultUndoCapacity), Source: SourceDefault, From: "built-in default"},
		HTTPPort:             ResolvedValue{Value: strconv.Itoa(DefaultHTTPPort), Source: SourceDefault, From: "built-in default"},
		Thresholds:           similarity.DefaultThresholds(),
		AutoLinkHypothetical: true,
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Project, cfg.Project, SourceConfig, path)
		apply(&out.LogMode, cfg.Log, SourceConfig, path)
		apply(&out.Policy, cfg.Resolve.Policy, SourceConfig, path)
		if cfg.UndoCapacity > 0 {
			apply(&out.UndoCapacity, strconv.Itoa(cfg.UndoCapacity), SourceConfig, path)
		}
		if cfg.HTTPPort > 0 {
			apply(&out.HTTPPort, strconv.Itoa(cfg.HTTPPort), SourceConfig, path)
		}
		if cfg.Resolve.AutoLinkHypothetical != nil {
			out.AutoLinkHypothetical = *cfg.Resolve.AutoLinkHypothetical
		}
		out.Thresholds = cfg.Resolve.Thresholds.Normalized()
	}

	applyEnv(&out.DBPath, "CASEGRAPH_DB")
	applyEnv(&out.Project, "CASEGRAPH_PROJECT")
	applyEnv(&out.LogMode, "CASEGRAPH_LOG")
	applyEnv(&out.Policy, "CASEGRAPH_POLICY")
	applyEnv(&out.UndoCapacity, "CASEGRAPH_UNDO_CAPACITY")
	applyEnv(&out.HTTPPort, "CASEGRAPH_HTTP_PORT")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Project, opts.CLIProject, SourceCLI, "--project")
	apply(&out.Policy, opts.CLIPolicy, SourceCLI, "--policy")
	apply(&out.LogMode, opts.CLILog, SourceCLI, "--log")
	apply(&out.HTTPPort, opts.CLIPort, SourceCLI, "--port")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if _, err := out.UndoCapacityInt(); err != nil {
		return out, err
	}
	if _, err := out.Port(); err != nil {
		return out, err
	}
	return out, nil
}

// UndoCapacityInt parses the resolved undo capacity.
func (r ResolvedConfig) UndoCapacityInt() (int, error) {
	return positiveInt(r.UndoCapacity, "undo capacity")
}

// Port parses the resolved HTTP port.
func (r ResolvedConfig) Port() (int, error) {
	return positiveInt(r.HTTPPort, "http port")
}

func positiveInt(v ResolvedValue, name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q (from %s %s)", name, v.Value, v.Source, v.From)
	}
	return n, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
