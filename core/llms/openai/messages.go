package openai

import "github.com/jinzhu/copier"

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

// historySnapshot returns a deep copy of the session's conversation so the
// request body cannot observe later context mutations.
func (c *Client) historySnapshot(sessionID string) []message {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()

	var history []message
	if stored := c.contexts[sessionID]; len(stored) > 0 {
		copier.Copy(&history, stored)
	}
	return history
}

func (c *Client) appendTurn(sessionID string, prompt string, response string) {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()

	c.contexts[sessionID] = append(c.contexts[sessionID],
		message{Role: messageRoleUser, Content: prompt},
		message{Role: messageRoleAssistant, Content: response},
	)
}
