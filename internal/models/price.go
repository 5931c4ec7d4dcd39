package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AbsentSentinel 缺失值在批次文件和报告中的固定表示
const AbsentSentinel = "-"

// Price 可缺失的价格
// 零值表示"缺失",序列化为 "-",永远不会输出null或空字符串
type Price struct {
	value float64
	valid bool
}

// NewPrice 创建一个存在的价格
func NewPrice(v float64) Price {
	return Price{value: v, valid: true}
}

// NoPrice 缺失价格
func NoPrice() Price {
	return Price{}
}

// IsSet 价格是否存在
func (p Price) IsSet() bool {
	return p.valid
}

// Value 返回价格值和是否存在
func (p Price) Value() (float64, bool) {
	return p.value, p.valid
}

// IsZero 价格存在且为0
func (p Price) IsZero() bool {
	return p.valid && p.cents() == 0
}

// IsPositive 价格存在且大于0
func (p Price) IsPositive() bool {
	return p.valid && p.cents() > 0
}

// Equal 按分比较两个价格,缺失值只与缺失值相等
func (p Price) Equal(other Price) bool {
	if p.valid != other.valid {
		return false
	}
	return !p.valid || p.cents() == other.cents()
}

// Less 按分比较大小(两者都必须存在)
func (p Price) Less(other Price) bool {
	return p.valid && other.valid && p.cents() < other.cents()
}

func (p Price) cents() int64 {
	return int64(math.Round(p.value * 100))
}

// String 两位小数,缺失时为 "-"
func (p Price) String() string {
	if !p.valid {
		return AbsentSentinel
	}
	return strconv.FormatFloat(p.value, 'f', 2, 64)
}

// MarshalJSON 实现json.Marshaler
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON 实现json.Unmarshaler
// 兼容旧版批次文件: null、""、"-" 均视为缺失,数字和 "7,99" 形式的字符串均可解析
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = NoPrice()
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParsePrice(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("无效的价格值 %s: %w", string(data), err)
	}
	*p = NewPrice(f)
	return nil
}

// ParsePrice 解析批次文件中的价格字符串
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == AbsentSentinel {
		return NoPrice(), nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return NoPrice(), fmt.Errorf("无效的价格字符串 %q: %w", s, err)
	}
	return NewPrice(f), nil
}
