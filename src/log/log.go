// Package log 初始化全局 logrus 日志器
package log

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schemaflow/schemaflow/src/configs"
)

// New 根据当前配置初始化全局日志器
//
// Debug 打开时输出 Debug 级别并打印调用方；配置了输出目录时同时写入
// 带启动时间戳的日志文件
func New() *logrus.Logger {
	cfg := configs.GetCurrentConfig()

	logLevel := logrus.InfoLevel
	if cfg != nil && cfg.Debug {
		logLevel = logrus.DebugLevel
	}

	writers := []io.Writer{os.Stderr}
	if outputFolder := os.Getenv("SCHEMAFLOW_LOG_DIR"); outputFolder != "" {
		if _, err := os.Stat(outputFolder); os.IsNotExist(err) {
			log.Fatalf("err: \"%s\", Failed to determine log output folder: %s", err, outputFolder)
		}
		runID := time.Now().Format("run-2006-01-02-15-04-05")
		logLocation := filepath.Join(outputFolder, runID+".log")
		logFile, err := os.OpenFile(logLocation, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file %s for output: %s", logLocation, err)
		}
		writers = append(writers, logFile)
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg != nil && cfg.Debug {
		logrus.SetReportCaller(true)
	}
	logrus.SetLevel(logLevel)

	return logrus.StandardLogger()
}

// GetLogger 返回全局唯一的 logrus Logger。
// 便于在代码任意位置获取 Logger，而无需通过 instance 传递。
func GetLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

// WithFields 是对全局 Logger 的便捷封装，返回带字段的 Entry。
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logrus.StandardLogger().WithFields(fields)
}
