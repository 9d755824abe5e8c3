// Package config 提供 VoiceGate 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → VOICEGATE_ 环境变量 的顺序合并，
// 并支持在运行时监听配置文件变化、调整日志级别。
package config
