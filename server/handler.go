package server

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tbxark/formchat/conversation"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/transcribe"
	"github.com/tbxark/formchat/types"
)

const maxAudioBytes = 25 << 20

// Service is the conversation surface exposed over HTTP.
type Service interface {
	Start(ctx context.Context, req conversation.StartRequest) (*conversation.StartResponse, error)
	Turn(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResponse, error)
	Sessions(ctx context.Context) ([]session.Snapshot, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type StartRequest struct {
	SessionID   string   `json:"sessionId" binding:"required"`
	Labelset    []string `json:"labelset"`
	CallbackURL string   `json:"callbackUrl"`
}

type SessionDetail struct {
	State      types.State       `json:"state"`
	Responses  map[string]string `json:"responses"`
	Unanswered []string          `json:"unanswered"`
	LastQ      *string           `json:"last_q"`
}

type SessionsResponse struct {
	ActiveSessions []string                 `json:"active_sessions"`
	SessionDetails map[string]SessionDetail `json:"session_details"`
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Conversational Form Filler API is running."})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err))
		return
	}
	resp, err := h.service.Start(c.Request.Context(), conversation.StartRequest{
		SessionID:   req.SessionID,
		Labelset:    req.Labelset,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Message accepts multipart or urlencoded forms with sessionId, message and an optional audio_file.
func (h *Handler) Message(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	if sessionID == "" {
		writeError(c, fmt.Errorf("%w: sessionId is required", types.ErrInvalidArgument))
		return
	}
	req := conversation.TurnRequest{
		SessionID: sessionID,
		Message:   c.PostForm("message"),
	}
	if fh, err := c.FormFile("audio_file"); err == nil {
		audio, rErr := readAudio(fh)
		if rErr != nil {
			writeError(c, fmt.Errorf("%w: %v", types.ErrInvalidArgument, rErr))
			return
		}
		req.Audio = audio
		req.AudioFormat = transcribe.EncodingHint(fh.Header.Get("Content-Type"), fh.Filename)
	}

	resp, err := h.service.Turn(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{
		"botMessage":   resp.BotMessage,
		"sessionState": resp.SessionState,
	}
	if resp.Detailed {
		body["filled"] = resp.Filled
		body["remaining"] = resp.Remaining
	}
	if resp.TranscribedText != nil {
		body["transcribedText"] = *resp.TranscribedText
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Sessions(c *gin.Context) {
	snaps, err := h.service.Sessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := SessionsResponse{
		ActiveSessions: make([]string, 0, len(snaps)),
		SessionDetails: make(map[string]SessionDetail, len(snaps)),
	}
	for _, snap := range snaps {
		out.ActiveSessions = append(out.ActiveSessions, snap.ID)
		detail := SessionDetail{
			State:      snap.State,
			Responses:  snap.Responses,
			Unanswered: snap.Unanswered,
		}
		if snap.LastQuestion != "" {
			lastQ := snap.LastQuestion
			detail.LastQ = &lastQ
		}
		out.SessionDetails[snap.ID] = detail
	}
	c.JSON(http.StatusOK, out)
}

func readAudio(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio file exceeds %d bytes", maxAudioBytes)
	}
	return data, nil
}
