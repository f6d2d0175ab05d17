// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Council HTTP API 的请求处理器。

# 核心类型

  - SessionHandler   — 会话、参与者、用户发言与归档
  - ConductorHandler — 调度器开关、单轮调度、熔断重置、暂停/恢复、黑板、禁言
  - ModelHandler     — 生成模型列表
  - EventsHandler    — 基于 WebSocket 的会话事件流
  - HealthHandler    — /health、/ready、/version 探针
  - Response         — 统一 JSON 信封（success + data + error + timestamp）
  - ResponseWriter   — 捕获状态码，支持 Flush 与 Hijack

每个 Handler 都有 Register(mux) 方法，挂载到 Go 1.22 的 http.ServeMux。
错误统一经 WriteError 输出，ErrorCode 到 HTTP 状态码的映射见 StatusForCode。
*/
package handlers
