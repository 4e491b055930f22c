package normalizer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"vulnmaster/internal/model/scan"
	"vulnmaster/internal/model/system"
)

// nmapHost 对应nmap XML的<host>元素
type nmapHost struct {
	Status struct {
		State string `xml:"state,attr"`
	} `xml:"status"`
	Addresses []struct {
		Addr     string `xml:"addr,attr"`
		AddrType string `xml:"addrtype,attr"` // ipv4, ipv6, mac
	} `xml:"address"`
	Hostnames struct {
		Hostnames []struct {
			Name string `xml:"name,attr"`
		} `xml:"hostname"`
	} `xml:"hostnames"`
	Ports struct {
		Ports []struct {
			Protocol string `xml:"protocol,attr"`
			PortID   int    `xml:"portid,attr"`
			State    struct {
				State string `xml:"state,attr"`
			} `xml:"state"`
			Service struct {
				Name    string   `xml:"name,attr"`
				Product string   `xml:"product,attr"`
				Version string   `xml:"version,attr"`
				CPEs    []string `xml:"cpe"`
			} `xml:"service"`
		} `xml:"port"`
	} `xml:"ports"`
	Os struct {
		OsMatches []struct {
			Name string `xml:"name,attr"`
		} `xml:"osmatch"`
	} `xml:"os"`
}

// parseNmapXML 流式解析nmap XML输出
// 逐个解码<host>元素，引擎被中途杀死产生的截断尾部不致命：
// 已完整解码的主机照常返回，同时附带 ErrParseTruncated
func parseNmapXML(raw []byte) ([]scan.Finding, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var findings []scan.Finding

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return findings, nil
		}
		if err != nil {
			// 截断点之前的主机已经收集完毕
			return findings, fmt.Errorf("%w: %v", system.ErrParseTruncated, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "host" {
			continue
		}

		var h nmapHost
		if err := decoder.DecodeElement(&h, &start); err != nil {
			return findings, fmt.Errorf("%w: %v", system.ErrParseTruncated, err)
		}

		finding := nmapHostToFinding(h)
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
}

// nmapHostToFinding 把单个主机元素转成Finding
func nmapHostToFinding(h nmapHost) *scan.Finding {
	var ip string
	for _, addr := range h.Addresses {
		if addr.AddrType == "ipv4" || addr.AddrType == "ipv6" {
			ip = addr.Addr
			break
		}
	}
	if ip == "" {
		return nil // 跳过没有IP的主机
	}

	finding := &scan.Finding{Address: ip}

	if len(h.Hostnames.Hostnames) > 0 {
		finding.Hostname = h.Hostnames.Hostnames[0].Name
	}
	if len(h.Os.OsMatches) > 0 {
		finding.OS = h.Os.OsMatches[0].Name // 取第一个匹配度最高的
	}

	for _, p := range h.Ports.Ports {
		// 只记录open的端口
		if p.State.State != "open" {
			continue
		}

		cpe := ""
		if len(p.Service.CPEs) > 0 {
			cpe = p.Service.CPEs[0]
		}

		finding.Services = append(finding.Services, scan.FindingService{
			Port:    p.PortID,
			Proto:   p.Protocol,
			State:   p.State.State,
			Name:    p.Service.Name,
			Product: p.Service.Product,
			Version: p.Service.Version,
			CPE:     cpe,
		})
	}

	return finding
}
