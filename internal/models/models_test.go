package models

import (
	"testing"
)

func TestNewConversationKey(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		chat    string
		want    string
		wantErr bool
	}{
		{"direct chat", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net@5511999999999@s.whatsapp.net", false},
		{"group chat", "551188@s.whatsapp.net", "1203630@g.us", "551188@s.whatsapp.net@1203630@g.us", false},
		{"missing sender", "", "1203630@g.us", "", true},
		{"blank chat", "551188@s.whatsapp.net", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewConversationKey(tt.sender, tt.chat)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewConversationKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && key.String() != tt.want {
				t.Errorf("key.String() = %q, want %q", key.String(), tt.want)
			}
		})
	}
}

func TestInboundMessageKey(t *testing.T) {
	group := InboundMessage{From: "1203630@g.us", Author: "551188@s.whatsapp.net", IsGroup: true}
	if got := group.Key(); got.Sender != "551188@s.whatsapp.net" || got.ChatID != "1203630@g.us" {
		t.Errorf("group key = %+v", got)
	}

	direct := InboundMessage{From: "551177@s.whatsapp.net"}
	if got := direct.Key(); got.Sender != direct.From || got.ChatID != direct.From {
		t.Errorf("direct key = %+v", got)
	}
}

func TestInboundMessageMentions(t *testing.T) {
	msg := InboundMessage{MentionedIDs: []string{"551100@s.whatsapp.net"}}
	if !msg.Mentions("551100@s.whatsapp.net") {
		t.Error("expected mention to be found")
	}
	if msg.Mentions("551199@s.whatsapp.net") {
		t.Error("unexpected mention match")
	}
	if msg.Mentions("") {
		t.Error("empty id must never match")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := Error("Cliente não está pronto.")
	if resp.Status != string(APIStatusError) {
		t.Errorf("expected status %q, got %q", APIStatusError, resp.Status)
	}
	if resp.Message == "" {
		t.Error("expected message to be set")
	}
}
