package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// ErrToolDisabled is returned by tools that are registered but switched off.
var ErrToolDisabled = errors.New("tool is disabled")

type SendMessageInput struct {
	Channel string `json:"channel,omitempty" jsonschema:"description=Target channel"`
	ChatID  string `json:"chat_id,omitempty" jsonschema:"description=Target chat id"`
	Content string `json:"content" jsonschema:"required,description=Message content"`
}

type ShellCommandInput struct {
	Command string `json:"command" jsonschema:"required,description=Shell command"`
}

// NewSendMessageTool registers send_message so proposals naming it fail loudly.
func NewSendMessageTool() (tool.InvokableTool, error) {
	return utils.InferTool("send_message", "Send a message to a channel (disabled)",
		func(_ context.Context, _ *SendMessageInput) (string, error) {
			return "", fmt.Errorf("send_message: %w", ErrToolDisabled)
		})
}

// NewShellCommandTool registers shell_command so proposals naming it fail loudly.
func NewShellCommandTool() (tool.InvokableTool, error) {
	return utils.InferTool("shell_command", "Run a shell command (disabled)",
		func(_ context.Context, _ *ShellCommandInput) (string, error) {
			return "", fmt.Errorf("shell_command execution disabled by default: %w", ErrToolDisabled)
		})
}
