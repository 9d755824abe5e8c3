// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

// Package summary 提供整轮输出摘要能力：把一轮对话中的语句、代码和
// 控制台输出压缩为几句可直接朗读的话，调用 OpenAI 兼容的
// /v1/chat/completions 接口，并用 tiktoken 控制输入长度。
package summary
