package scan

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"vulnmaster/internal/model/system"
	"vulnmaster/internal/pkg/utils"
)

// SubmitScanRequest 提交扫描任务请求结构
type SubmitScanRequest struct {
	Name      string                 `json:"name" validate:"required,min=1,max=200"` // 任务名称，必填
	Kind      ScanKind               `json:"kind" validate:"required"`               // 扫描类型，必填
	Targets   []string               `json:"targets" validate:"required,min=1"`      // 目标列表，必填
	PortRange string                 `json:"port_range"`                             // 端口范围，可选
	Options   map[string]interface{} `json:"options"`                                // 引擎选项，可选
}

// Validate 校验提交请求
// allowedCIDRs 非空时，IP/CIDR类目标必须落在允许的地址空间内
func (r *SubmitScanRequest) Validate(allowedCIDRs []string) []*system.ValidationError {
	var errs []*system.ValidationError

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, system.NewValidationError("name", "task name is required"))
	}

	if !r.Kind.IsValid() {
		errs = append(errs, system.NewValidationError("kind", fmt.Sprintf("unknown scan kind: %s", r.Kind)))
	}

	if len(r.Targets) == 0 {
		errs = append(errs, system.NewValidationError("targets", "target list cannot be empty"))
	}

	for i, target := range r.Targets {
		target = strings.TrimSpace(target)
		if target == "" {
			errs = append(errs, system.NewValidationError(
				fmt.Sprintf("targets[%d]", i), "target cannot be empty"))
			continue
		}
		if err := validateTarget(r.Kind, target, allowedCIDRs); err != nil {
			errs = append(errs, system.NewValidationError(fmt.Sprintf("targets[%d]", i), err.Error()))
		}
	}

	if r.PortRange != "" && !utils.IsValidPortRange(r.PortRange) {
		errs = append(errs, system.NewValidationError("port_range", fmt.Sprintf("invalid port range: %s", r.PortRange)))
	}

	return errs
}

// validateTarget 按扫描类型校验单个目标
// 网络类扫描接受 IP/CIDR/主机名，Web类扫描要求 http(s) URL
func validateTarget(kind ScanKind, target string, allowedCIDRs []string) error {
	if kind.IsWebKind() {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target must be an http(s) url: %s", target)
		}
		return nil
	}

	switch {
	case utils.IsValidIP(target):
		if !utils.IPInCIDRs(target, allowedCIDRs) {
			return fmt.Errorf("target %s is outside the allowed address space", target)
		}
		return nil
	case utils.IsValidCIDR(target):
		if !cidrInsideAllowed(target, allowedCIDRs) {
			return fmt.Errorf("target %s is outside the allowed address space", target)
		}
		return nil
	case utils.IsValidHostname(target):
		// 主机名目标在解析前无法做地址空间校验，由引擎侧策略兜底
		return nil
	default:
		return fmt.Errorf("target is not a valid ip, cidr or hostname: %s", target)
	}
}

// cidrInsideAllowed 检查CIDR目标的网络地址是否落在允许的地址空间内
func cidrInsideAllowed(cidr string, allowedCIDRs []string) bool {
	if len(allowedCIDRs) == 0 {
		return true
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return utils.IPInCIDRs(network.IP.String(), allowedCIDRs)
}

// ListScanJobsRequest 获取扫描任务列表请求结构
type ListScanJobsRequest struct {
	Page     int            `json:"page" form:"page"`           // 页码，默认1
	PageSize int            `json:"page_size" form:"page_size"` // 每页数量，默认10
	Status   *ScanJobStatus `json:"status" form:"status"`       // 状态过滤，可选
	Kind     *ScanKind      `json:"kind" form:"kind"`           // 类型过滤，可选
}

// Normalize 填充分页默认值
func (r *ListScanJobsRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = 10
	}
	if r.PageSize > 100 {
		r.PageSize = 100
	}
}
