package correlator

import (
	"strconv"
	"strings"
)

// VersionInRange 判断版本是否落在受影响区间内(闭区间)
// start或end为空表示该侧无界
func VersionInRange(version, start, end string) bool {
	if version == "" {
		// 无版本信息时只匹配全区间条目
		return start == "" && end == ""
	}
	if start != "" && CompareVersions(version, start) < 0 {
		return false
	}
	if end != "" && CompareVersions(version, end) > 0 {
		return false
	}
	return true
}

// CompareVersions 按段比较两个版本号，返回 -1/0/1
// 段优先按数值比较，非数值段退化为字符串比较；段数不齐时缺失段按0处理
func CompareVersions(a, b string) int {
	segsA := splitVersion(a)
	segsB := splitVersion(b)

	n := len(segsA)
	if len(segsB) > n {
		n = len(segsB)
	}

	for i := 0; i < n; i++ {
		segA, segB := "0", "0"
		if i < len(segsA) {
			segA = segsA[i]
		}
		if i < len(segsB) {
			segB = segsB[i]
		}

		numA, errA := strconv.Atoi(segA)
		numB, errB := strconv.Atoi(segB)
		if errA == nil && errB == nil {
			if numA != numB {
				if numA < numB {
					return -1
				}
				return 1
			}
			continue
		}

		if cmp := strings.Compare(segA, segB); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// splitVersion 把版本号拆成段，分隔符兼容点/横线/下划线，如"2.4.49"、"8.9p1-2"
func splitVersion(v string) []string {
	v = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(v), "v"))
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}
