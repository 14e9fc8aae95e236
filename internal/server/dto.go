package server

import (
	"coachline/internal/domain"
)

// Request payloads

type SendMessageRequest struct {
	Text           string  `json:"text"`
	Agent          string  `json:"agent" enum:"reception,data,routine"`
	ConversationID *string `json:"conversation_id,omitempty"`
}

type DevLoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Response payloads

type SendMessageResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"user,assistant"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func conversationResponse(c domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func mapConversations(items []domain.Conversation) []ConversationResponse {
	res := make([]ConversationResponse, 0, len(items))
	for _, c := range items {
		res = append(res, conversationResponse(c))
	}
	return res
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func mapMessages(items []domain.Message) []MessageResponse {
	res := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		res = append(res, messageResponse(m))
	}
	return res
}
