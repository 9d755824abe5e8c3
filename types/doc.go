// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

/*
Package types 提供 VoiceGate 网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 interpreter、speech、
pipeline、api 等上层模块提供统一的错误码与 Context 传播契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - MALFORMED_FRAME / PROTOCOL_VIOLATION / SYNTHESIS_FAILED /
    UPSTREAM_UNAVAILABLE / CONNECTION_LOST — 流水线错误分类

# 主要能力

  - Context 传播：WithSessionID / WithTurnID / WithRequestID
  - 错误工具链：GetErrorCode / IsCode / IsRetryable（均支持 errors.As 解包）
*/
package types
