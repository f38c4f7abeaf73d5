package backup

import (
	"encoding/json"
	"fmt"
	"os"
)

// writeMetadata 将元数据写入产物旁的 JSON 文件
func writeMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// readMetadata 读取并解析元数据文件
func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup metadata: %w", err)
	}
	if meta.ArtifactLocation == "" {
		return nil, fmt.Errorf("backup metadata %s has no artifact location", path)
	}
	return &meta, nil
}
