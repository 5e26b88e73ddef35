package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic names a fan-out channel: a chat room or a user's personal feed.
type Topic string

const (
	chatTopicPrefix = "chat:"
	userTopicPrefix = "user:"
)

// ChatTopic returns the topic for a chat room.
func ChatTopic(chatID int) Topic {
	return Topic(chatTopicPrefix + strconv.Itoa(chatID))
}

// UserTopic returns the personal topic of a user.
func UserTopic(userID int) Topic {
	return Topic(userTopicPrefix + strconv.Itoa(userID))
}

// ParseTopic splits a topic into its kind ("chat" or "user") and numeric id.
func ParseTopic(t Topic) (kind string, id int, err error) {
	raw := string(t)
	switch {
	case strings.HasPrefix(raw, chatTopicPrefix):
		kind, raw = "chat", strings.TrimPrefix(raw, chatTopicPrefix)
	case strings.HasPrefix(raw, userTopicPrefix):
		kind, raw = "user", strings.TrimPrefix(raw, userTopicPrefix)
	default:
		return "", 0, fmt.Errorf("unknown topic %q", t)
	}
	id, err = strconv.Atoi(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid topic id %q: %w", t, err)
	}
	return kind, id, nil
}
