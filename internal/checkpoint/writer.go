// Package checkpoint 负责批次文件的增量写入、续跑扫描和最终合并导出
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RecoveryAshes/ExoStore/internal/models"
	"github.com/RecoveryAshes/ExoStore/internal/utils"
)

// DefaultBatchSize 每个批次文件的记录数,也是强制终止时最多丢失的记录数
const DefaultBatchSize = 5

// ErrExistingBatches 全新运行时批次目录中仍有上一次运行未合并的文件
var ErrExistingBatches = errors.New("批次目录中存在未合并的批次文件")

// BatchFile 磁盘上的一个批次文件
type BatchFile struct {
	Path     string
	Sequence int
}

// ScanResult 批次目录扫描结果
type ScanResult struct {
	Files        []BatchFile // 按序号升序
	Records      int         // 已持久化的记录总数
	NextSequence int         // 下一个批次的序号
}

// Scan 扫描批次目录,按序号排序并统计已持久化的记录
// 目录不存在时返回空结果; 任何批次文件损坏都返回错误
func Scan(dir string) (ScanResult, error) {
	result := ScanResult{NextSequence: 1}

	files, err := listBatchFiles(dir)
	if err != nil {
		return result, err
	}

	for _, f := range files {
		batch, err := models.LoadBatchFromFile(f.Path, f.Sequence)
		if err != nil {
			return result, err
		}
		result.Records += len(batch.Records)
	}

	result.Files = files
	if len(files) > 0 {
		result.NextSequence = files[len(files)-1].Sequence + 1
	}
	return result, nil
}

func listBatchFiles(dir string) ([]BatchFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取批次目录失败: %w", err)
	}

	files := make([]BatchFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := models.ParseBatchSequence(e.Name())
		if !ok {
			continue
		}
		files = append(files, BatchFile{Path: filepath.Join(dir, e.Name()), Sequence: seq})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Sequence < files[j].Sequence })

	for i := 1; i < len(files); i++ {
		if files[i].Sequence == files[i-1].Sequence {
			return nil, fmt.Errorf("批次序号重复: %s 与 %s", files[i-1].Path, files[i].Path)
		}
	}
	return files, nil
}

// Writer 批次写入器
// 缓冲记录,满 batchSize 条时写出一个批次文件; Close 时写出剩余记录
type Writer struct {
	dir       string
	batchSize int

	buffer  []models.EnrichedRecord
	nextSeq int
	written int
	closed  bool
	onFlush func(models.Batch)
	mu      sync.Mutex
}

// NewWriter 创建批次写入器,startSequence 为第一个批次的序号(续跑时接着已有序号)
func NewWriter(dir string, batchSize int, startSequence int) (*Writer, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("批次大小必须大于0: %d", batchSize)
	}
	if startSequence < 1 {
		startSequence = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建批次目录失败: %w", err)
	}

	return &Writer{
		dir:       dir,
		batchSize: batchSize,
		buffer:    make([]models.EnrichedRecord, 0, batchSize),
		nextSeq:   startSequence,
	}, nil
}

// OnFlush 每写出一个批次后回调
func (w *Writer) OnFlush(fn func(models.Batch)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFlush = fn
}

// Record 追加一条记录,缓冲区满时立即写出
// 返回的错误表示写入失败,调用方必须终止运行
func (w *Writer) Record(rec models.EnrichedRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("批次写入器已关闭")
	}

	w.buffer = append(w.buffer, rec.Normalize())
	if len(w.buffer) >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Close 写出缓冲区中剩余的记录
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.buffer) == 0 {
		return nil
	}
	return w.flush()
}

// BatchesWritten 本次写出的批次数
func (w *Writer) BatchesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Pending 缓冲区中尚未写出的记录数
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *Writer) flush() error {
	batch := models.Batch{Sequence: w.nextSeq, Records: w.buffer}

	data, err := batch.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化批次失败: %w", err)
	}

	path := filepath.Join(w.dir, models.BatchFilename(batch.Sequence))
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("写入批次文件失败 [%s]: %w", path, err)
	}

	utils.Infof("💾 已保存批次 %s (%d 条记录)", filepath.Base(path), len(batch.Records))

	w.nextSeq++
	w.written++
	w.buffer = make([]models.EnrichedRecord, 0, w.batchSize)

	if w.onFlush != nil {
		w.onFlush(batch)
	}
	return nil
}
