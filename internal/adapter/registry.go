package adapter

import (
	"fmt"
	"sync"

	"vulnmaster/internal/config"
	"vulnmaster/internal/model/scan"
)

// Factory 引擎工厂，每次调用产出一个全新实例
// 引擎实例按任务创建，会话状态不跨任务共享
type Factory func() Engine

// Registry 扫描类型到引擎工厂的注册中心
// 调度核心通过注册中心取引擎，除构造外不感知引擎身份
type Registry struct {
	factories map[scan.ScanKind]Factory
	mu        sync.RWMutex
}

// NewRegistry 按引擎配置构建默认注册表
func NewRegistry(cfg *config.EnginesConfig) *Registry {
	r := &Registry{
		factories: make(map[scan.ScanKind]Factory),
	}

	// 网络/端口/服务/全量扫描走网络映射引擎，模式不同
	r.Register(scan.KindDiscovery, func() Engine { return NewNmapEngine(&cfg.Nmap, NmapModeDiscovery) })
	r.Register(scan.KindPortScan, func() Engine { return NewNmapEngine(&cfg.Nmap, NmapModePort) })
	r.Register(scan.KindServiceScan, func() Engine { return NewNmapEngine(&cfg.Nmap, NmapModeService) })
	r.Register(scan.KindFull, func() Engine { return NewNmapEngine(&cfg.Nmap, NmapModeFull) })

	// 漏洞管理引擎
	r.Register(scan.KindVulnScan, func() Engine { return NewOpenVASEngine(&cfg.OpenVAS) })
	r.Register(scan.KindFullVulnScan, func() Engine { return NewOpenVASEngine(&cfg.OpenVAS) })

	// 模板漏洞引擎
	r.Register(scan.KindTemplateScan, func() Engine { return NewNucleiEngine(&cfg.Nuclei) })

	// Web应用引擎
	r.Register(scan.KindWebAppScan, func() Engine { return NewZAPEngine(&cfg.ZAP) })

	return r
}

// Register 注册扫描类型对应的引擎工厂
func (r *Registry) Register(kind scan.ScanKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Get 按扫描类型创建引擎实例
func (r *Registry) Get(kind scan.ScanKind) (Engine, error) {
	r.mu.RLock()
	factory, exists := r.factories[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no engine registered for scan kind: %s", kind)
	}
	return factory(), nil
}
