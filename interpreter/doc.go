// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

/*
Package interpreter 负责与上游代码执行 Agent（interpreter）通信，
并将其分块事件流解码为封闭的 {Role, Kind} 事件。

# 概述

上游接口接收 {"message": "..."} 的 POST 请求，以 "data: {json}" 行的形式
返回事件流。每一行经 Decoder 解码为 Event：

  - 不带 "data:" 前缀的行视为噪声（keep-alive 等），返回 ErrSkipFrame。
  - 载荷不是合法 JSON、或 role/type 组合不受支持时返回 MALFORMED_FRAME 错误，
    调用方记录日志后跳过该帧，流继续。
  - "[DONE]" 表示流结束。

# 核心类型

  - Event：解码后的事件（Role、Kind、Content、Start、End、Format）。
  - Variant：封闭的 {Role, Kind} 组合，供 switch 穷举处理。
  - Decoder：单帧解码器，无状态。
  - Client / Stream：HTTP 流式客户端，按需拉取（Next），
    调用方不拉取时不会消费上游数据。
*/
package interpreter
