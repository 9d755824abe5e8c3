// Copyright (c) VoiceGate Authors.
// Licensed under the MIT License.

/*
Package pipeline 实现单个客户端连接的流式重组与扇出管线。

# 概述

每个 websocket 连接对应一个 Session。Session 把用户输入转发给
interpreter，逐帧拉取上游事件，经 Assembler 重组为完整的语句、
代码块和控制台事件，再由 Dispatcher 按可用顺序推送给客户端；
语句文本同时经 speech.SentenceChunker 切句，交给会话内唯一的
合成 worker 逐句合成音频。

# 核心类型

  - Assembler：消息与代码两个独立子状态机（Idle/Open），处理
    交错、重复 start、缺失 end 以及流提前结束。
  - Dispatcher：出站连接的唯一写者，保证单会话内消息顺序。
  - Session：一个连接的完整生命周期，包含读循环、轮次执行、
    合成 worker 与写循环四个 goroutine，由 errgroup 统一管理。
  - Manager：存活会话登记表，负责活跃会话指标与优雅关闭。

# 并发模型

同一会话内的合成严格串行、按片段顺序完成；不同会话之间并发。
收到执行确认请求后会话进入 AwaitingConfirmation 状态，停止拉取
上游事件直到用户回复、超时或断开。客户端断开会取消会话 context，
中止上游 HTTP 请求并丢弃所有未完成的缓冲。
*/
package pipeline
