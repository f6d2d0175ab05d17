// 版权所有 2024 Council Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
键前缀隔离与 JSON 序列化。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期管理，包括初始化、
后台健康检查与优雅关闭。上层用途：

  - llm.CachedGateway：缓存模型列表，配合 singleflight 合并并发请求
  - conductor.RedisStateStore：保存各会话的 Conductor 状态机状态

# 核心类型

  - Manager：Get/Set/Delete/Exists/Ping 与 GetJSON/SetJSON
  - Config：地址、密码、键前缀、连接池大小、默认 TTL 与健康检查间隔
  - Stats：从 INFO 输出解析的命中数、未命中数、内存与连接数

# 错误语义

ErrCacheMiss 表示未命中，使用 IsCacheMiss 判断；ErrClosed 表示管理器已关闭。
*/
package cache
