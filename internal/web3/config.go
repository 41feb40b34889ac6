package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Deployments models the structure of configs/deployments.yaml.
type Deployments struct {
	Default     string                `yaml:"default"`
	Deployments map[string]Deployment `yaml:"deployments"`
}

// Deployment describes one network on which the pool and token are deployed.
type Deployment struct {
	RPCURL        string `yaml:"rpc_url"`
	ChainID       int64  `yaml:"chain_id"`
	PoolAddress   string `yaml:"pool_address"`
	TokenAddress  string `yaml:"token_address"`
	TokenDecimals int    `yaml:"token_decimals"`
	BaseDecimals  int    `yaml:"base_decimals"`
	Description   string `yaml:"description"`
}

// LoadDeployments parses the YAML file containing deployment metadata.
func LoadDeployments(path string) (Deployments, error) {
	if strings.TrimSpace(path) == "" {
		return Deployments{Deployments: map[string]Deployment{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Deployments{}, fmt.Errorf("读取部署配置失败: %w", err)
	}

	var defs Deployments
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Deployments{}, fmt.Errorf("解析部署配置失败: %w", err)
	}
	if defs.Deployments == nil {
		defs.Deployments = map[string]Deployment{}
	}
	return defs, nil
}

// Lookup returns the named deployment. An empty name falls back to the
// file's default entry, or to the only entry when there is exactly one.
func (d Deployments) Lookup(name string) (string, Deployment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(d.Default)
	}
	if name == "" {
		if len(d.Deployments) == 1 {
			for only, dep := range d.Deployments {
				return only, dep, nil
			}
		}
		return "", Deployment{}, fmt.Errorf("未指定部署名称，可选: %s", strings.Join(d.Names(), ", "))
	}
	dep, ok := d.Deployments[name]
	if !ok {
		return "", Deployment{}, fmt.Errorf("部署 %s 未在配置中找到", name)
	}
	return name, dep, nil
}

// Names lists the configured deployments in sorted order.
func (d Deployments) Names() []string {
	names := make([]string, 0, len(d.Deployments))
	for name := range d.Deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
