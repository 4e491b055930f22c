/**
 * 结果规范化器
 * @author: sun977
 * @date: 2026.05.06
 * @description: 把四种引擎的原生输出转成统一的Finding记录，容忍截断输出
 * @func: Normalize、NormalizeChunk
 */
package normalizer

import (
	"fmt"

	"vulnmaster/internal/model/scan"
)

// Normalize 把引擎原生输出转成Finding列表
// 输出被截断时尽量解析可用前缀，余下部分丢弃并返回 system.ErrParseTruncated，
// 调用方应当记录告警但不失败整个任务
func Normalize(kind scan.ScanKind, raw []byte) ([]scan.Finding, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	switch kind {
	case scan.KindDiscovery, scan.KindPortScan, scan.KindServiceScan, scan.KindFull:
		return parseNmapXML(raw)
	case scan.KindVulnScan, scan.KindFullVulnScan:
		return parseOpenVASReport(raw)
	case scan.KindTemplateScan:
		return parseNucleiJSONL(raw)
	case scan.KindWebAppScan:
		return parseZAPAlerts(raw)
	default:
		return nil, fmt.Errorf("no normalizer for scan kind: %s", kind)
	}
}

// NormalizeChunk 处理流式引擎的增量输出块
// 目前只有模板漏洞引擎逐行流式产出，其余引擎的增量块留到Collect后整体解析
func NormalizeChunk(kind scan.ScanKind, chunk []byte) ([]scan.Finding, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	switch kind {
	case scan.KindTemplateScan:
		return parseNucleiJSONL(chunk)
	default:
		return nil, nil
	}
}
