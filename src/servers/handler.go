package servers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/schemaflow/schemaflow/src/consts"
	"github.com/schemaflow/schemaflow/src/pkg/backup"
)

type commonResp struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
	Data   any    `json:"data,omitempty"`
}

func writeJSON(writer http.ResponseWriter, data any) {
	writeJsonWithStatusCode(writer, http.StatusOK, data)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, code int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_, _ = writer.Write(b)
}

func (s *Server) getAppInfo(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func (s *Server) getStatus(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, map[string]any{
		"state":           s.orchestrator.State(),
		"current_version": s.orchestrator.CurrentVersion(),
	})
}

func (s *Server) getHistory(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, s.orchestrator.History())
}

func (s *Server) validateSchema(writer http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.ValidateSchema(r.Context())
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo:  http.StatusInternalServerError,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, result)
}

func (s *Server) getAnalytics(writer http.ResponseWriter, _ *http.Request) {
	if s.recorder == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "analytics is not enabled",
		})
		return
	}
	writeJSON(writer, s.recorder.Data())
}

// importAnalytics 接收先前导出的统计数据 JSON 文档并导入
func (s *Server) importAnalytics(writer http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "analytics is not enabled",
		})
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}

	// Import 从文件读取，请求体先落到临时文件
	tmp, err := os.CreateTemp("", "analytics-import-*.json")
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo:  http.StatusInternalServerError,
			ErrMsg: err.Error(),
		})
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		writeJsonWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo:  http.StatusInternalServerError,
			ErrMsg: err.Error(),
		})
		return
	}
	tmp.Close()

	if err := s.recorder.Import(tmpPath); err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, commonResp{
		ErrNo:  0,
		ErrMsg: "analytics data imported",
	})
}

func (s *Server) listBackups(writer http.ResponseWriter, _ *http.Request) {
	if s.backups == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "backup is not enabled",
		})
		return
	}
	writeJSON(writer, s.backups.ListBackups())
}

func (s *Server) getBackup(writer http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "backup is not enabled",
		})
		return
	}
	vars := mux.Vars(r)
	meta, err := s.backups.GetBackup(vars["id"])
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: fmt.Sprintf("backup id: %s can not find", vars["id"]),
		})
		return
	}
	writeJSON(writer, meta)
}

func (s *Server) deleteBackup(writer http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "backup is not enabled",
		})
		return
	}
	vars := mux.Vars(r)
	meta, err := s.backups.GetBackup(vars["id"])
	if err == nil {
		err = s.backups.DeleteBackup(meta)
	}
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, backup.ErrBackupNotFound) {
			code = http.StatusNotFound
		}
		writeJsonWithStatusCode(writer, code, commonResp{
			ErrNo:  code,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, commonResp{
		ErrNo:  0,
		ErrMsg: fmt.Sprintf("backup %s deleted", filepath.Base(vars["id"])),
	})
}
