// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
Package types 提供 council 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、api 等上层
模块提供统一的类型契约。

# 核心类型

  - Session / SessionPatch — 辩论会话及其部分字段更新
  - BlackboardState        — 共识、冲突、下一步、事实四个自由文本字段
  - BlackboardUpdate       — 部分更新（nil 表示缺省，指向 "" 表示显式清空）
  - Persona / HushState    — 会话内参与者视图与静音倒计时
  - Message                — 对话记录条目（PersonaID 为 nil 表示用户）
  - Error / ErrorCode      — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 黑板合并：MergeBlackboard（幂等，缺省字段保留原值）
  - 错误工具链：AsError / WrapError / IsErrorCode / IsGatewayError
  - Context 传播：WithTraceID / WithRequestID / WithUserID / WithSessionID
*/
package types
