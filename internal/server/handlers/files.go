package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/websoft9/sftpdesk/internal/remotefs"
)

// FileClient is the remote file API the handlers call into.
type FileClient interface {
	ListFiles(ctx context.Context, p remotefs.Params, remotePath string) ([]remotefs.Entry, error)
	DownloadFile(ctx context.Context, p remotefs.Params, remotePath, localPath string) error
	UploadFile(ctx context.Context, p remotefs.Params, localPath, remotePath string) error
}

// FileRequest is the body of every /v1/files call and the args of every
// invoke command.
type FileRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path,omitempty"`
}

func (fr FileRequest) params() remotefs.Params {
	return remotefs.Params{
		Host:     fr.Host,
		Port:     fr.Port,
		Username: fr.Username,
		Password: fr.Password,
	}
}

func (fr FileRequest) validate(needLocal bool) error {
	if fr.Host == "" {
		return errors.New("host is required")
	}
	if fr.Port < 0 || fr.Port > 65535 {
		return fmt.Errorf("port out of range: %d", fr.Port)
	}
	if fr.RemotePath == "" {
		return errors.New("remote_path is required")
	}
	if needLocal && fr.LocalPath == "" {
		return errors.New("local_path is required")
	}
	return nil
}

type ListResponse struct {
	Path    string           `json:"path"`
	Entries []remotefs.Entry `json:"entries"`
}

type TransferResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse carries the "<step> failed: <cause>" message. Step is set
// for remote operation failures.
type ErrorResponse struct {
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// ListFiles handles POST /v1/files/list.
func ListFiles(client FileClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeFileRequest(w, r, false)
		if !ok {
			return
		}
		entries, err := client.ListFiles(r.Context(), req.params(), req.RemotePath)
		if err != nil {
			writeOpError(w, "list", err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse{Path: req.RemotePath, Entries: nonNil(entries)})
	}
}

// DownloadFile handles POST /v1/files/download.
func DownloadFile(client FileClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeFileRequest(w, r, true)
		if !ok {
			return
		}
		if err := client.DownloadFile(r.Context(), req.params(), req.RemotePath, req.LocalPath); err != nil {
			writeOpError(w, "download", err)
			return
		}
		writeJSON(w, http.StatusOK, TransferResponse{OK: true})
	}
}

// UploadFile handles POST /v1/files/upload.
func UploadFile(client FileClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeFileRequest(w, r, true)
		if !ok {
			return
		}
		if err := client.UploadFile(r.Context(), req.params(), req.LocalPath, req.RemotePath); err != nil {
			writeOpError(w, "upload", err)
			return
		}
		writeJSON(w, http.StatusOK, TransferResponse{OK: true})
	}
}

const maxRequestBody = 64 << 10

func decodeFileRequest(w http.ResponseWriter, r *http.Request, needLocal bool) (FileRequest, bool) {
	var req FileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return req, false
	}
	if err := req.validate(needLocal); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return req, false
	}
	return req, true
}

func writeOpError(w http.ResponseWriter, op string, err error) {
	log.Warn().Err(err).Str("op", op).Msg("bridge: operation failed")
	writeJSON(w, http.StatusBadGateway, errorResponse(err))
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Message: err.Error()}
	if step := remotefs.StepOf(err); step != 0 {
		resp.Step = step.String()
	}
	return resp
}

func nonNil(entries []remotefs.Entry) []remotefs.Entry {
	if entries == nil {
		return []remotefs.Entry{}
	}
	return entries
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("bridge: write response")
	}
}
