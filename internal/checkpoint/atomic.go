package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic 先写临时文件并fsync,再重命名为目标文件
// 进程在任意时刻被终止,目标路径上要么是旧内容,要么是完整的新内容
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("重命名文件失败: %w", err)
	}
	return syncDir(dir)
}

// syncDir 同步目录项,使重命名和删除在断电后仍然有效
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("打开目录失败: %w", err)
	}
	defer d.Close()

	// 部分平台(如Windows)不支持对目录fsync,忽略该错误
	_ = d.Sync()
	return nil
}
