// 版权所有 2024 VoiceGate Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 speech 提供语音合成 (TTS) 与语音识别 (STT) 接入层，以及把助手文本
切分为句子片段的 SentenceChunker。

# 概述

TTS 被视为纯函数：文本 + 固定声音配置 → 音频字节。Synthesizer 在
Provider 之外叠加按内容寻址的 Redis 缓存、singleflight 合并与全局并发上限；
同一会话内的串行与顺序由调用方（pipeline 的合成 worker）保证。

# 核心接口

  - TTSProvider / STTProvider：服务商接口。
  - SentenceChunker：增量切句，保留未终结的尾部，按语句去重。
  - Synthesizer：带缓存的合成入口，失败返回 SYNTHESIS_FAILED。
  - Transcriber：转写入口，失败返回 TRANSCRIPTION_FAILED。

# 主要能力

  - OpenAI TTS（/v1/audio/speech）与 ElevenLabs TTS 适配。
  - OpenAI Whisper 与 Deepgram STT 适配。
  - NewTTSProvider / NewSTTProvider 按名称构造服务商。
*/
package speech
