// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 VoiceGate HTTP 端点的请求处理器。

# 核心类型

  - WSHandler      — /ws 端点，完成 websocket 握手后交给会话管理器
  - HealthHandler  — /health, /healthz, /ready, /version
  - HealthCheck    — 可插拔就绪检查（Redis Ping、interpreter 可达性）
  - Response       — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter — 捕获状态码，并保留 Hijack 以便 websocket 穿过中间件

错误码到 HTTP 状态码的映射见 HTTPStatusFor。
*/
package handlers
