// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
Package conductor 实现辩论会话的自动调度循环。

# 概述

Conductor 在每个调度周期中完成以下步骤：检查熔断策略、按禁言状态筛选
可发言人格、调用选择器模型、把决策转换为有序副作用并在一个存储事务中
落地，最后把结果返回给调用方。被选中人格的发言由调用方在调度器之外生成，
再通过 RecordPersonaResponse 写回。

# 核心类型

  - Conductor：对外操作入口，按会话串行化周期与计数器修改
  - Decide：纯函数，将 selector.Decision 转换为 Plan（副作用列表）
  - State / StateStore：idle、processing、awaiting_input、blocked、
    manual_paused 五种状态，支持内存与 Redis 存储
  - Hub：会话事件广播，慢订阅者丢弃事件而不阻塞调度
  - Recorder / ArchiveSink：指标与归档导出的注入点

# 错误语义

任何失败都不会修改自动回复计数、token 计数或黑板；失败以 ResultError
结果连同 *types.Error 一并返回，不会被当作等待用户处理。
*/
package conductor
