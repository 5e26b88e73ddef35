package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"typing","chat_id":4,"is_typing":true,"request_id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameTyping, frame.Type)
	assert.Equal(t, 4, frame.ChatID)
	assert.True(t, frame.IsTyping)
	assert.Equal(t, "r1", frame.RequestID)

	_, err = DecodeFrame([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEncodeFrameOmitsEmptyFields(t *testing.T) {
	payload, err := EncodeFrame(OutboundFrame{Type: FramePong})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(payload))
}
