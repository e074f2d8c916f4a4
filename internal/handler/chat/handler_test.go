package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/model/chat"
	"github.com/mdthorpe/llm-web-chat/internal/service/ai"
	chatservice "github.com/mdthorpe/llm-web-chat/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	store := chatservice.NewService()
	registry := ai.NewRegistry()
	registry.Register("mock-model", ai.NewMockGenerator(0))
	handler := New(store, registry, zerolog.Nop())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateChatValidModel(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPost, "/chats", map[string]string{"name": "Trip", "modelId": "mock-model"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var c chat.Chat
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if c.ID == "" || c.Name != "Trip" || c.ModelID != "mock-model" {
		t.Fatalf("unexpected chat %+v", c)
	}
}

func TestCreateChatRejectsUnknownModel(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPost, "/chats", map[string]string{"modelId": "gpt-unknown"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateChatMissingModel(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPost, "/chats", map[string]string{"name": "x"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateChatInvalidBody(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetRenameDeleteChat(t *testing.T) {
	r, store := setupRouter()
	c, err := store.CreateChat(context.Background(), "", "mock-model")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if resp := doRequest(r, http.MethodGet, "/chats/"+c.ID, nil); resp.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.Code)
	}

	resp := doRequest(r, http.MethodPatch, "/chats/"+c.ID, map[string]string{"name": "Renamed"})
	if resp.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d", resp.Code)
	}
	var renamed chat.Chat
	if err := json.NewDecoder(resp.Body).Decode(&renamed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if renamed.Name != "Renamed" {
		t.Fatalf("expected renamed chat, got %+v", renamed)
	}

	if resp := doRequest(r, http.MethodDelete, "/chats/"+c.ID, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodGet, "/chats/"+c.ID, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodDelete, "/chats/"+c.ID, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.Code)
	}
}

func TestListMessages(t *testing.T) {
	r, store := setupRouter()
	ctx := context.Background()
	c, _ := store.CreateChat(ctx, "", "mock-model")

	resp := doRequest(r, http.MethodGet, "/chats/"+c.ID+"/messages", nil)
	if resp.Code != http.StatusOK || bytes.TrimSpace(resp.Body.Bytes())[0] != '[' {
		t.Fatalf("expected empty array, got %d %s", resp.Code, resp.Body.String())
	}

	for _, content := range []string{"one", "two"} {
		if _, err := store.InsertMessage(ctx, chat.Message{ChatID: c.ID, Role: chat.RoleUser, Content: content}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	resp = doRequest(r, http.MethodGet, "/chats/"+c.ID+"/messages", nil)
	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "one" || messages[1].Content != "two" {
		t.Fatalf("unexpected messages %+v", messages)
	}

	if resp := doRequest(r, http.MethodGet, "/chats/missing/messages", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown chat, got %d", resp.Code)
	}
}

func TestListModels(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodGet, "/models", nil)
	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Models) != 1 || body.Models[0] != "mock-model" {
		t.Fatalf("unexpected models %+v", body.Models)
	}
}
