package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
	chatService "github.com/mdthorpe/llm-web-chat/internal/service/chat"
	"github.com/mdthorpe/llm-web-chat/pkg/utils"
)

// Catalog lists the model ids the server can answer with.
type Catalog interface {
	Models() []string
	Supports(modelID string) bool
}

// Handler 聊天管理的HTTP处理器
type Handler struct {
	store   chatService.Store
	catalog Catalog
	logger  zerolog.Logger
}

// New 创建聊天处理器
func New(store chatService.Store, catalog Catalog, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		catalog: catalog,
		logger:  logger.With().Str("component", "chat_api").Logger(),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Route("/chats", func(r chi.Router) {
		r.Post("/", h.handleCreateChat)
		r.Get("/{chatID}", h.handleGetChat)
		r.Patch("/{chatID}", h.handleRenameChat)
		r.Delete("/{chatID}", h.handleDeleteChat)
		r.Get("/{chatID}/messages", h.handleListMessages)
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"models": h.catalog.Models()})
}

// handleCreateChat 创建会话
func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		ModelID string `json:"modelId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	modelID := strings.TrimSpace(payload.ModelID)
	if modelID == "" {
		utils.RespondError(w, r, http.StatusBadRequest, "modelId is required")
		return
	}
	if !h.catalog.Supports(modelID) {
		utils.RespondError(w, r, http.StatusBadRequest, "unsupported model")
		return
	}

	c, err := h.store.CreateChat(r.Context(), payload.Name, modelID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.RenameChat(r.Context(), chi.URLParam(r, "chatID"), payload.Name)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回按时间排序的消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.ListMessagesByChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		utils.RespondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrModelRequired):
		utils.RespondError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("chat store failure")
		utils.RespondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
