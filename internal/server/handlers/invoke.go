package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/websoft9/sftpdesk/internal/remotefs"
	"github.com/websoft9/sftpdesk/internal/server/middleware"
)

// Invoke command names, matching the frontend's command names.
const (
	CmdListFiles    = "list_files"
	CmdDownloadFile = "download_file"
	CmdUploadFile   = "upload_file"
)

const writeWait = 10 * time.Second

// InvokeRequest is one command sent by the frontend over the invoke socket.
type InvokeRequest struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args"`
}

// InvokeResponse answers the InvokeRequest with the same ID. Result is the
// entry list for list_files and null for transfers.
type InvokeResponse struct {
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Result any            `json:"result"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// Invoke serves the WebSocket command bridge. Every command runs in its own
// goroutine with its own SSH session, so a slow transfer never blocks a
// listing. Replies may arrive out of order and are matched by ID.
func Invoke(client FileClient, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upgrade WebSocket")
			return
		}
		defer conn.Close()

		// Commands still running when the socket closes see a cancelled
		// context; only session setup observes it.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var (
			writeMu sync.Mutex
			wg      sync.WaitGroup
		)
		reply := func(resp InvokeResponse) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(resp); err != nil {
				log.Debug().Err(err).Str("id", resp.ID).Msg("invoke: write failed")
			}
		}

		for {
			var req InvokeRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Msg("WebSocket read error")
				}
				break
			}
			if req.ID == "" {
				req.ID = uuid.NewString()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				reply(dispatch(ctx, client, req))
			}()
		}

		cancel()
		wg.Wait()
		log.Debug().Msg("invoke: session closed")
	}
}

func dispatch(ctx context.Context, client FileClient, req InvokeRequest) InvokeResponse {
	resp := InvokeResponse{ID: req.ID}

	var args FileRequest
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			resp.Error = &ErrorResponse{Message: "invalid args"}
			return resp
		}
	}

	var err error
	switch req.Cmd {
	case CmdListFiles:
		if err = args.validate(false); err == nil {
			var entries []remotefs.Entry
			entries, err = client.ListFiles(ctx, args.params(), args.RemotePath)
			resp.Result = nonNil(entries)
		}
	case CmdDownloadFile:
		if err = args.validate(true); err == nil {
			err = client.DownloadFile(ctx, args.params(), args.RemotePath, args.LocalPath)
		}
	case CmdUploadFile:
		if err = args.validate(true); err == nil {
			err = client.UploadFile(ctx, args.params(), args.LocalPath, args.RemotePath)
		}
	default:
		err = fmt.Errorf("unknown command %q", req.Cmd)
	}

	if err != nil {
		resp.Result = nil
		e := errorResponse(err)
		resp.Error = &e
		return resp
	}
	resp.OK = true
	return resp
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return middleware.OriginAllowed(allowed, r.Header.Get("Origin"))
	}
}
