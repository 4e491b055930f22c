package correlator

import (
	"strings"

	"vulnmaster/internal/model/asset"
	"vulnmaster/internal/model/scan"
)

// 构造CPE时从产品名里剔除的厂商噪声词
var vendorNoiseWords = map[string]bool{
	"inc":         true,
	"inc.":        true,
	"ltd":         true,
	"ltd.":        true,
	"llc":         true,
	"co":          true,
	"co.":         true,
	"corp":        true,
	"corporation": true,
	"foundation":  true,
	"software":    true,
	"project":     true,
	"the":         true,
}

// ResolveCPE 解析服务的平台标识
// 优先级：引擎直接给出(置信100) > 由产品/版本构造(置信60-85) > 无法解析(置信0)
func ResolveCPE(service *asset.AssetService) scan.CPE {
	if service.CPE != "" {
		return scan.CPE{
			Source:     scan.CPESourceEngine,
			Value:      service.CPE,
			Confidence: 100,
		}
	}

	product := normalizeProduct(service.Product)
	if product == "" {
		return scan.CPE{Source: scan.CPESourceNone, Confidence: 0}
	}

	version := strings.TrimSpace(service.Version)
	confidence := 60 // 只有产品名
	value := "cpe:/a:" + product + ":" + product
	if version != "" {
		confidence = 85 // 产品+版本齐全
		value += ":" + version
	}

	return scan.CPE{
		Source:     scan.CPESourceConstructed,
		Value:      value,
		Confidence: confidence,
	}
}

// normalizeProduct 规范化产品名：小写、去厂商噪声词、空白折叠为下划线
func normalizeProduct(product string) string {
	var kept []string
	for _, token := range strings.Fields(strings.ToLower(product)) {
		if vendorNoiseWords[token] {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, "_")
}

// cpePlatform 从CPE字符串里拆出产品和版本，供情报缓存查询
// 兼容 cpe:/a:vendor:product:version 和 cpe:2.3:a:vendor:product:version 两种形式
func cpePlatform(value string) (string, string) {
	value = strings.TrimPrefix(value, "cpe:/")
	value = strings.TrimPrefix(value, "cpe:2.3:")

	parts := strings.Split(value, ":")
	// parts[0]=part(a/o/h) parts[1]=vendor parts[2]=product parts[3]=version
	if len(parts) < 3 {
		return "", ""
	}
	product := parts[2]
	version := ""
	if len(parts) >= 4 && parts[3] != "*" && parts[3] != "-" {
		version = parts[3]
	}
	return strings.ToLower(product), version
}
