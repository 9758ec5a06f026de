package skill

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Defaults 描述 skills.yaml 中所有技能共享的默认参数。
type Defaults struct {
	MaxRetries int            `yaml:"max_retries"`
	TimeoutMS  int            `yaml:"timeout_ms"`
	Config     map[string]any `yaml:"config"`
}

// Definition 描述单个技能的配置条目。
type Definition struct {
	Name       string         `yaml:"name"`
	Provider   string         `yaml:"provider"`
	Chains     []uint64       `yaml:"chains"`
	MaxRetries *int           `yaml:"max_retries"`
	TimeoutMS  *int           `yaml:"timeout_ms"`
	Config     map[string]any `yaml:"config"`
}

// Definitions 对应 skills.yaml 的整体结构。
type Definitions struct {
	Defaults Defaults     `yaml:"defaults"`
	Skills   []Definition `yaml:"skills"`
}

// Resolved 是合并默认值之后的技能配置。
type Resolved struct {
	Name       string
	Provider   string
	Chains     []uint64
	MaxRetries int
	TimeoutMS  int
	Config     map[string]any
}

// Timeout 返回技能级别的执行超时。零值表示不限制。
func (r Resolved) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// LoadDefinitions 从 YAML 文件加载技能定义。路径为空时返回空定义。
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取技能定义失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析技能定义失败: %w", err)
	}
	for i, def := range defs.Skills {
		if strings.TrimSpace(def.Name) == "" {
			return Definitions{}, fmt.Errorf("技能定义第 %d 项缺少 name", i+1)
		}
	}
	return defs, nil
}

// Resolve 返回指定技能合并默认值后的有效配置。
func (d Definitions) Resolve(name string) (Resolved, bool) {
	for _, def := range d.Skills {
		if def.Name != name {
			continue
		}
		resolved, err := d.resolve(def)
		if err != nil {
			return Resolved{}, false
		}
		return resolved, true
	}
	return Resolved{}, false
}

// ResolveAll 返回全部技能的有效配置。
func (d Definitions) ResolveAll() ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(d.Skills))
	for _, def := range d.Skills {
		r, err := d.resolve(def)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

func (d Definitions) resolve(def Definition) (Resolved, error) {
	merged := cloneConfig(d.Defaults.Config)
	if merged == nil {
		merged = make(map[string]any)
	}
	if len(def.Config) > 0 {
		if err := mergo.Merge(&merged, def.Config, mergo.WithOverride); err != nil {
			return Resolved{}, fmt.Errorf("合并技能 %s 配置失败: %w", def.Name, err)
		}
	}

	maxRetries := d.Defaults.MaxRetries
	if def.MaxRetries != nil {
		maxRetries = *def.MaxRetries
	}
	timeoutMS := d.Defaults.TimeoutMS
	if def.TimeoutMS != nil {
		timeoutMS = *def.TimeoutMS
	}

	return Resolved{
		Name:       def.Name,
		Provider:   def.Provider,
		Chains:     append([]uint64(nil), def.Chains...),
		MaxRetries: maxRetries,
		TimeoutMS:  timeoutMS,
		Config:     merged,
	}, nil
}

func cloneConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	cloned := make(map[string]any, len(config))
	for key, value := range config {
		cloned[key] = value
	}
	return cloned
}
