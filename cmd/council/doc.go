// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
Package main 提供 Council 服务端程序入口。

# 概述

cmd/council 是多角色辩论调度服务的可执行入口，基于 cobra 提供
serve、migrate、version、health 子命令。serve 装配会话存储
（memory / GORM）、Redis 状态缓存、Gemini 网关、Mongo 归档、
Prometheus 指标与 OpenTelemetry 追踪，并对外暴露 HTTP API 与
WebSocket 事件流。

# 核心类型

  - Server      — 组装依赖，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、RateLimiter、JWTAuth
  - 配置热重载：conductor 配置与日志级别在文件变更后生效
  - 迁移：migrate up/down/status/version/goto/force/steps/info
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
