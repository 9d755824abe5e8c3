// 版权所有 2024 VoiceGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：封装 net/http.Server，持有监听器与异步错误通道。
    VoiceGate 用两个实例分别承载 websocket/API 端口与 metrics 端口。
  - ShutdownHook：在 http.Server 关闭前执行的钩子。websocket 连接
    被劫持后不受 http.Server.Shutdown 管理，会话排空通过钩子完成。

信号处理由 cmd/voicegate 通过 signal.NotifyContext 完成。
*/
package server
