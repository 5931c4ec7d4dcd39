package models

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// BatchFilePrefix 批次文件名前缀
const BatchFilePrefix = "partial_"

// batchFilePattern 同时匹配新格式(partial_000012.json)和旧格式(partial_12.json)
var batchFilePattern = regexp.MustCompile(`^partial_(\d+)\.json$`)

// Batch 一个批次: 连续的最多N条记录
type Batch struct {
	Sequence int              // 批次序号,从1开始单调递增
	Records  []EnrichedRecord // 记录,保持输入顺序
}

// BatchFilename 生成批次文件名
// 序号补零到6位,使文件名顺序与序号顺序一致
func BatchFilename(sequence int) string {
	return fmt.Sprintf("%s%06d.json", BatchFilePrefix, sequence)
}

// ParseBatchSequence 从文件名解析批次序号
func ParseBatchSequence(filename string) (int, bool) {
	m := batchFilePattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, false
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// ToJSON 序列化为JSON数组
func (b *Batch) ToJSON() ([]byte, error) {
	records := b.Records
	if records == nil {
		records = []EnrichedRecord{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// FromJSON 从JSON数组反序列化
func (b *Batch) FromJSON(data []byte) error {
	var records []EnrichedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for i := range records {
		records[i] = records[i].Normalize()
	}
	b.Records = records
	return nil
}

// LoadBatchFromFile 从文件加载批次
func LoadBatchFromFile(path string, sequence int) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	b := &Batch{Sequence: sequence}
	if err := b.FromJSON(data); err != nil {
		return nil, fmt.Errorf("批次文件损坏 [%s]: %w", path, err)
	}

	return b, nil
}
