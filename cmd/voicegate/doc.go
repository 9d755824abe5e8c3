// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

/*
Package main 提供 VoiceGate 服务端程序入口。

# 概述

cmd/voicegate 是语音网关的可执行入口，提供 websocket 会话服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件与 VOICEGATE_
环境变量、结构化日志（zap）、Prometheus 指标以及日志级别热重载。

# 核心类型

  - Server      — 主服务器，管理会话管理器、HTTP 与 Metrics 双端口及优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 路由：/ws（客户端会话）、/health、/healthz、/ready、/readyz、/version
  - 中间件链：RequestID、Recovery、OTelTracing、MetricsMiddleware、
    SecurityHeaders、RequestLogger、CORS、RateLimiter（基于 IP）
  - 可选依赖：Redis 音频缓存、摘要服务，不可用时降级运行
  - 优雅关闭：信号 → 排空会话 → 关闭 HTTP → 关闭 Metrics → 关闭缓存与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
