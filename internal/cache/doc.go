// 版权所有 2024 VoiceGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的合成音频缓存，支持连接池、健康检查、
命中统计与可选 TLS。

# 概述

TTS 合成是纯函数（文本 + 固定声音配置 → 音频），因此可以按内容寻址缓存。
Manager 封装 go-redis 客户端，以二进制形式存取音频，键由调用方
（speech.VoiceConfig.CacheKey）生成，Manager 只负责加前缀与 TTL。

# 核心类型

  - Manager：缓存管理器，提供 GetAudio/SetAudio/Delete/Ping/Close，
    以及 Stats 命中率统计。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL、键前缀、
    TLS 开关与健康检查间隔等参数。

# 主要能力

  - 音频读写：二进制安全的 GET/SET，未命中返回 ErrCacheMiss。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时停止。
  - 统计：本地原子计数的命中/未命中次数，加上 Redis DBSIZE。
*/
package cache
