// Package backup 提供迁移前存储快照的创建、恢复与清理
//
// 备份产物是适配器定义的不透明文件，本包只负责位置、元数据与保留策略。
// 每个产物旁边持久化一个元数据 JSON（pair），删除时成对删除，避免孤儿文件。
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/pkg/store"
	"github.com/schemaflow/schemaflow/src/pkg/version"
)

const (
	// MetadataSuffix 元数据文件后缀
	MetadataSuffix = ".meta.json"
	// DefaultRetention 默认保留的备份数量
	DefaultRetention = 10
	// DefaultNameTemplate 默认备份文件名模板
	DefaultNameTemplate = `{{ .Name }}_v{{ .Version }}_{{ .Timestamp }}_{{ .ID | trunc 8 }}.backup`
)

var (
	// ErrBackupNotFound 备份不存在错误
	ErrBackupNotFound = errors.New("backup not found")
	// ErrBackupUnreadable 备份产物不可读错误
	ErrBackupUnreadable = errors.New("backup artifact is not readable")
)

// Metadata 与每个备份产物一同持久化的元数据
type Metadata struct {
	// ID 备份唯一标识
	ID string `json:"id"`
	// SourceLocation 原始存储位置
	SourceLocation string `json:"source_location"`
	// ArtifactLocation 备份产物位置
	ArtifactLocation string `json:"artifact_location"`
	// SourceVersion 备份时存储所处的版本
	SourceVersion string `json:"source_version"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// SizeBytes 产物字节数
	SizeBytes int64 `json:"size_bytes"`
}

// Manager 备份管理器
type Manager struct {
	dir       string
	retention int
	nameTmpl  *template.Template
	logger    *logrus.Entry
}

// templateData 备份文件名模板的渲染数据
type templateData struct {
	Name      string
	Version   string
	Timestamp string
	ID        string
}

// NewManager 创建备份管理器
// retention <= 0 时使用 DefaultRetention；nameTmpl 为空时使用 DefaultNameTemplate
func NewManager(dir string, retention int, nameTmpl string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory cannot be empty")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if nameTmpl == "" {
		nameTmpl = DefaultNameTemplate
	}
	tmpl, err := template.New("backup").Funcs(sprig.TxtFuncMap()).Parse(nameTmpl)
	if err != nil {
		return nil, fmt.Errorf("invalid backup name template: %w", err)
	}
	return &Manager{
		dir:       dir,
		retention: retention,
		nameTmpl:  tmpl,
		logger:    logrus.WithField("component", "backup_manager"),
	}, nil
}

// CreateBackup 创建一个新备份
//
// 产物先写入临时文件再重命名，复制要么完整成功要么不留下部分产物。
// 创建成功后清理超出保留数量的最旧备份（产物与元数据成对删除）。
func (m *Manager) CreateBackup(ctx context.Context, adapter store.Adapter, sourceVersion version.Version) (*Metadata, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	meta := &Metadata{
		ID:             strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", ""),
		SourceLocation: adapter.Location(),
		SourceVersion:  sourceVersion.String(),
		CreatedAt:      time.Now(),
	}

	name, err := m.renderName(meta)
	if err != nil {
		return nil, err
	}
	artifactPath := filepath.Join(m.dir, name)
	tmpPath := artifactPath + ".tmp"

	if err := adapter.CopyStoreTo(ctx, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to copy store: %w", err)
	}
	info, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("backup artifact missing after copy: %w", err)
	}
	if err := os.Rename(tmpPath, artifactPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize backup artifact: %w", err)
	}

	meta.ArtifactLocation = artifactPath
	meta.SizeBytes = info.Size()

	if err := writeMetadata(artifactPath+MetadataSuffix, meta); err != nil {
		// 元数据写失败时产物没有存在的意义，成对清理
		_ = os.Remove(artifactPath)
		return nil, fmt.Errorf("failed to write backup metadata: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"backup_id":      meta.ID,
		"artifact":       artifactPath,
		"source_version": meta.SourceVersion,
		"size_bytes":     meta.SizeBytes,
	}).Info("backup created")

	// 清理失败不影响主流程
	if err := m.pruneOldBackups(); err != nil {
		m.logger.WithError(err).Warn("failed to prune old backups")
	}
	return meta, nil
}

func (m *Manager) renderName(meta *Metadata) (string, error) {
	base := filepath.Base(meta.SourceLocation)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "store"
	}
	var buf bytes.Buffer
	err := m.nameTmpl.Execute(&buf, templateData{
		Name:      strings.TrimSuffix(base, filepath.Ext(base)),
		Version:   meta.SourceVersion,
		Timestamp: meta.CreatedAt.Format("20060102_150405"),
		ID:        meta.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render backup name: %w", err)
	}
	return buf.String(), nil
}

// RestoreBackup 从备份恢复存储
// 只有在确认产物存在且可读之后才会触碰目标存储
func (m *Manager) RestoreBackup(ctx context.Context, adapter store.Adapter, meta *Metadata) error {
	if meta == nil || meta.ArtifactLocation == "" {
		return fmt.Errorf("%w: empty metadata", ErrBackupNotFound)
	}
	f, err := os.Open(meta.ArtifactLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, meta.ArtifactLocation)
		}
		return fmt.Errorf("%w: %v", ErrBackupUnreadable, err)
	}
	// 读一个字节验证可读性
	one := make([]byte, 1)
	if _, err := f.Read(one); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return fmt.Errorf("%w: %v", ErrBackupUnreadable, err)
	}
	f.Close()

	if err := adapter.RestoreStoreFrom(ctx, meta.ArtifactLocation); err != nil {
		return fmt.Errorf("failed to restore store from backup: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"backup_id":      meta.ID,
		"source_version": meta.SourceVersion,
	}).Info("backup restored")
	return nil
}

// ListBackups 列出所有备份，最新的在前
// 元数据缺失或不可读的备份被跳过，不会使列表失败
func (m *Manager) ListBackups() []*Metadata {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.WithError(err).Warn("failed to read backup directory")
		}
		return nil
	}

	var backups []*Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), MetadataSuffix) {
			continue
		}
		meta, err := readMetadata(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			m.logger.WithError(err).WithField("file", entry.Name()).Warn("skipping unreadable backup metadata")
			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups
}

// GetBackup 按 ID 查找备份
func (m *Manager) GetBackup(id string) (*Metadata, error) {
	for _, meta := range m.ListBackups() {
		if meta.ID == id {
			return meta, nil
		}
	}
	return nil, fmt.Errorf("%w: id %s", ErrBackupNotFound, id)
}

// GetLatestBackup 返回最新备份，没有备份时返回 ErrBackupNotFound
func (m *Manager) GetLatestBackup() (*Metadata, error) {
	backups := m.ListBackups()
	if len(backups) == 0 {
		return nil, ErrBackupNotFound
	}
	return backups[0], nil
}

// DeleteBackup 删除一个备份
// 产物与元数据成对删除；备份已不存在时返回 ErrBackupNotFound
func (m *Manager) DeleteBackup(meta *Metadata) error {
	if meta == nil || meta.ArtifactLocation == "" {
		return fmt.Errorf("%w: empty metadata", ErrBackupNotFound)
	}
	if _, err := os.Stat(meta.ArtifactLocation); os.IsNotExist(err) {
		if _, err := os.Stat(meta.ArtifactLocation + MetadataSuffix); os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, meta.ArtifactLocation)
		}
	}
	if err := os.Remove(meta.ArtifactLocation); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup artifact: %w", err)
	}
	if err := os.Remove(meta.ArtifactLocation + MetadataSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup metadata: %w", err)
	}
	return nil
}

// pruneOldBackups 清理超出保留数量的最旧备份
func (m *Manager) pruneOldBackups() error {
	backups := m.ListBackups()
	if len(backups) <= m.retention {
		return nil
	}
	for _, meta := range backups[m.retention:] {
		if err := m.DeleteBackup(meta); err != nil && !errors.Is(err, ErrBackupNotFound) {
			return err
		}
		m.logger.WithField("backup_id", meta.ID).Debug("old backup pruned")
	}
	return nil
}
