// 版权所有 2024 VoiceGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的网关指标采集能力，覆盖
HTTP、会话、上游事件流、语音合成与出站消息五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。
Collector 的所有记录方法对 nil 接收者安全，未启用指标时调用方无需判空。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 会话指标：活跃会话 Gauge、会话总数、轮次结果与耗时。
  - 上游指标：事件帧按结果计数（ok/malformed），协议违规按类型计数。
  - 语音指标：合成耗时与失败、音频缓存命中/未命中、转写耗时与失败。
  - 出站指标：按消息类型（chat/code_output/input_required/audio）计数，确认结果计数。
*/
package metrics
