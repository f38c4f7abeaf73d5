package notify

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/src/configs"
	"github.com/schemaflow/schemaflow/src/consts"
	blog "github.com/schemaflow/schemaflow/src/log"
	"github.com/schemaflow/schemaflow/src/notify/email"
)

// 迁移结果通知状态
const (
	MigrationStatusCompleted  = "completed"
	MigrationStatusFailed     = "failed"
	MigrationStatusRolledBack = "rolled_back"
)

// SendMigrationNotification 发送迁移结果通知
// 由 CLI 在迁移运行结束后调用，编排核心自身不直接发送通知
func SendMigrationNotification(ctx context.Context, storeLocation, fromVersion, toVersion, status, detail string) error {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if !cfg.Notify.Enable {
		return nil
	}

	var messageStatus string
	switch status {
	case MigrationStatusCompleted:
		messageStatus = "迁移已成功完成"
	case MigrationStatusFailed:
		messageStatus = "迁移失败"
	case MigrationStatusRolledBack:
		messageStatus = "迁移失败,存储已回滚"
	default:
		messageStatus = "迁移状态未知"
	}

	subject := fmt.Sprintf("%s - %s: %s -> %s", consts.AppName, messageStatus, fromVersion, toVersion)
	body := fmt.Sprintf("存储：%s\n版本：%s -> %s\n结果：%s", storeLocation, fromVersion, toVersion, messageStatus)
	if detail != "" {
		body += fmt.Sprintf("\n详情：%s", detail)
	}

	if err := email.SendEmail(subject, body); err != nil {
		blog.GetLogger().WithError(err).Error("Failed to send email")
		return err
	}
	return nil
}
