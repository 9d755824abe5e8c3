// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 VoiceGate 的会话轮次、上游流与语音合成提供 tracing。
// 当遥测功能禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
