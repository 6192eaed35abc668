// Package handlers provides HTTP request handlers for the server.
// This file handles the core POST /v1/messages endpoint.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaycc/cc-dispatch/internal/apierrors"
	"github.com/relaycc/cc-dispatch/internal/dispatcher"
	"github.com/relaycc/cc-dispatch/internal/server/sse"
	"github.com/relaycc/cc-dispatch/internal/utils"
	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

// MessagesHandler serves the Anthropic-compatible chat completion endpoint.
type MessagesHandler struct {
	dispatcher      *dispatcher.Dispatcher
	fallbackEnabled bool
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(d *dispatcher.Dispatcher, fallbackEnabled bool) *MessagesHandler {
	return &MessagesHandler{dispatcher: d, fallbackEnabled: fallbackEnabled}
}

// CreateMessage handles POST /v1/messages, dispatching to either the
// buffered or the live-streaming path depending on the request's "stream"
// field.
func (h *MessagesHandler) CreateMessage(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.FormatAPIError(apierrors.NewUpstream4xxError("invalid request body: "+err.Error(), http.StatusBadRequest)))
		return
	}
	if req.Model == "" {
		c.JSON(http.StatusBadRequest, apierrors.FormatAPIError(apierrors.NewUpstream4xxError("model is required", http.StatusBadRequest)))
		return
	}

	if req.Stream {
		h.stream(c, &req)
		return
	}
	h.buffered(c, &req)
}

func (h *MessagesHandler) buffered(c *gin.Context, req *anthropic.MessagesRequest) {
	resp, err := h.dispatcher.Dispatch(c.Request.Context(), req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[API] dispatch failed for model %s: %v", req.Model, err)
		c.JSON(apierrors.HTTPStatusFromError(err), apierrors.FormatAPIError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) stream(c *gin.Context, req *anthropic.MessagesRequest) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierrors.FormatAPIError(apierrors.NewUpstream5xxError("streaming not supported", http.StatusInternalServerError)))
		return
	}
	writer.SetHeaders()
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	events, errCh := h.dispatcher.DispatchStream(ctx, req, h.fallbackEnabled)
	for event := range events {
		if werr := writer.WriteStreamEvent(ctx, event); werr != nil {
			utils.Debug("[API] client disconnected mid-stream for model %s: %v", req.Model, werr)
			return
		}
	}
	if err := <-errCh; err != nil {
		utils.Error("[API] stream dispatch failed for model %s: %v", req.Model, err)
		body := apierrors.FormatAPIError(err)
		data, _ := json.Marshal(body)
		_ = writer.WriteRaw("error", data)
	}
}
