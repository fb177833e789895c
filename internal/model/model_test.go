package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.im.realtime/pkg/errors"
)

func TestMessageStatus_CanAdvance(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		expected bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSending, StatusRead, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusRead, true},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusRead, false},
		{StatusSent, StatusSending, false},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusSending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestMessage_MarkReadIdempotent(t *testing.T) {
	msg := &Message{Status: StatusSent}
	first := time.Now()

	assert.True(t, msg.MarkRead(first))
	assert.False(t, msg.MarkRead(first.Add(time.Minute)))

	require.NotNil(t, msg.ReadAt)
	assert.Equal(t, first, *msg.ReadAt)
	assert.Equal(t, StatusRead, msg.Status)
	assert.True(t, msg.IsRead)
}

func TestMessage_ToggleReactionIsItsOwnInverse(t *testing.T) {
	now := time.Now()
	msg := &Message{Reactions: []Reaction{{UserID: 9, Emoji: "👍", CreatedAt: now}}}

	added := msg.ToggleReaction(1, "🎉", now)
	assert.True(t, added)
	assert.Len(t, msg.Reactions, 2)

	added = msg.ToggleReaction(1, "🎉", now)
	assert.False(t, added)
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, int64(9), msg.Reactions[0].UserID)

	// 同一用户不同表情互不影响
	msg.ToggleReaction(9, "❤️", now)
	assert.Len(t, msg.Reactions, 2)
}

func TestMessage_Redacted(t *testing.T) {
	msg := &Message{ID: 1, Content: "secret", Attachments: []Attachment{{URL: "u"}}}
	assert.Same(t, msg, msg.Redacted())

	msg.SoftDelete(time.Now())
	red := msg.Redacted()
	assert.Empty(t, red.Content)
	assert.Nil(t, red.Attachments)
	// 原始内容保留
	assert.Equal(t, "secret", msg.Content)
	assert.False(t, msg.SoftDelete(time.Now()))
}

func TestValidatePayload(t *testing.T) {
	limits := DefaultLimits()
	manyAttachments := make([]Attachment, MaxAttachments+1)
	for i := range manyAttachments {
		manyAttachments[i] = Attachment{URL: "https://cdn/x", Size: 1}
	}

	tests := []struct {
		name        string
		content     string
		attachments []Attachment
		target      *appErrors.AppError
	}{
		{"text only", "hi", nil, nil},
		{"attachment only", "", []Attachment{{URL: "https://cdn/a.png", Size: 10}}, nil},
		{"empty", "   ", nil, appErrors.ErrValidation},
		{"too many attachments", "", manyAttachments, appErrors.ErrLimitExceeded},
		{"oversized attachment", "", []Attachment{{URL: "https://cdn/big", Size: MaxAttachmentSize + 1}}, appErrors.ErrValidation},
		{"attachment without url", "x", []Attachment{{Size: 1}}, appErrors.ErrValidation},
		{"content too long", strings.Repeat("a", MaxContentLength+1), nil, appErrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.content, tt.attachments, limits)
			if tt.target == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, appErrors.Is(err, tt.target), "unexpected error: %v", err)
		})
	}
}

func TestConversation_TogglePinLimit(t *testing.T) {
	conv := &Conversation{}
	for i := int64(1); i <= MaxPinnedMessages; i++ {
		pinned, err := conv.TogglePin(i)
		require.NoError(t, err)
		require.True(t, pinned)
	}

	_, err := conv.TogglePin(11)
	assert.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))

	pinned, err := conv.TogglePin(3)
	require.NoError(t, err)
	assert.False(t, pinned)

	pinned, err = conv.TogglePin(11)
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Len(t, conv.PinnedMessageIDs, MaxPinnedMessages)
}

func TestConversation_RemoveParticipant(t *testing.T) {
	conv := &Conversation{
		IsGroup:       true,
		Participants:  []int64{1, 2, 3},
		Admins:        []int64{1, 2},
		TypingUserIDs: []int64{2},
		LastReadAt:    map[int64]time.Time{2: time.Now()},
	}

	removed, promoted := conv.RemoveParticipant(2)
	assert.True(t, removed)
	assert.Zero(t, promoted)
	assert.Equal(t, []int64{1, 3}, conv.Participants)
	assert.Equal(t, []int64{1}, conv.Admins)
	assert.Empty(t, conv.TypingUserIDs)
	assert.NotContains(t, conv.LastReadAt, int64(2))

	// 最后一名管理员离开时提升最早的成员
	removed, promoted = conv.RemoveParticipant(1)
	assert.True(t, removed)
	assert.Equal(t, int64(3), promoted)
	assert.Equal(t, []int64{3}, conv.Admins)

	removed, _ = conv.RemoveParticipant(42)
	assert.False(t, removed)
}

func TestConversation_Admins(t *testing.T) {
	conv := &Conversation{IsGroup: true, Participants: []int64{1, 2}, Admins: []int64{1}}

	_, err := conv.AddAdmin(7)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))

	added, err := conv.AddAdmin(2)
	require.NoError(t, err)
	assert.True(t, added)

	removed, err := conv.RemoveAdmin(1)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = conv.RemoveAdmin(2)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))
}

func TestConversation_Validate(t *testing.T) {
	tests := []struct {
		name  string
		conv  Conversation
		valid bool
	}{
		{"direct", Conversation{Participants: []int64{1, 2}}, true},
		{"direct with admin", Conversation{Participants: []int64{1, 2}, Admins: []int64{1}}, false},
		{"single participant", Conversation{Participants: []int64{1}}, false},
		{"duplicate", Conversation{Participants: []int64{1, 1}}, false},
		{"group", Conversation{IsGroup: true, Participants: []int64{1, 2, 3}, Admins: []int64{1}}, true},
		{"group without admin", Conversation{IsGroup: true, Participants: []int64{1, 2}}, false},
		{"admin outside group", Conversation{IsGroup: true, Participants: []int64{1, 2}, Admins: []int64{5}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conv.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDirectKey(t *testing.T) {
	assert.Equal(t, DirectKey(5, 3), DirectKey(3, 5))
	assert.Equal(t, "3:5", DirectKey(5, 3))

	conv := &Conversation{Participants: []int64{9, 4}}
	assert.Equal(t, "4:9", conv.DirectKey())
	assert.Equal(t, int64(4), conv.Peer(9))
}

func TestConversation_MarkReadOnlyMovesForward(t *testing.T) {
	conv := &Conversation{}
	now := time.Now()

	conv.MarkRead(1, now)
	conv.MarkRead(1, now.Add(-time.Hour))
	assert.Equal(t, now, conv.LastReadAt[1])
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := &Conversation{Participants: []int64{1, 2}, LastReadAt: map[int64]time.Time{1: time.Now()}}
	cp := conv.Clone()
	cp.Participants[0] = 99
	delete(cp.LastReadAt, 1)

	assert.Equal(t, int64(1), conv.Participants[0])
	assert.Contains(t, conv.LastReadAt, int64(1))
}

func TestEntityIDsEncodedAsStrings(t *testing.T) {
	const conv, msg = int64(369301816128598018), int64(369301816128598019)

	data, err := json.Marshal(&Message{ID: msg, ConversationID: conv, ReplyTo: msg, ForwardedFrom: msg})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "369301816128598018", decoded["conversationId"])
	assert.Equal(t, "369301816128598019", decoded["replyTo"])
	assert.Equal(t, "369301816128598019", decoded["forwardedFrom"])

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, conv, back.ConversationID)

	data, err = json.Marshal(&Conversation{ID: conv, LastMessageID: msg, PinnedMessageIDs: []int64{msg}})
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "369301816128598019", decoded["lastMessageId"])
	assert.Equal(t, []any{"369301816128598019"}, decoded["pinnedMessageIds"])

	data, err = json.Marshal(&Notification{ID: 1, RelatedID: msg})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"relatedId":"369301816128598019"`)
}
