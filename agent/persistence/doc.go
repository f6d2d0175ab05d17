// Copyright (c) Council Authors.

/*
包 persistence 提供辩论会话的持久化存储。

# 概述

Store 接口覆盖会话、参与者、消息与禁言状态四类数据，
由 conductor 在单个事务中读写，保证一次调度周期的原子性。

# 后端实现

  - MemoryStore: 内存实现，事务期间持有写锁，失败时回滚到快照。
  - GormStore: 基于 gorm，支持 sqlite、postgres 与 mysql。
    生产环境表结构由 internal/migration 管理。

# 约束

  - messages 表 (session_id, turn_number) 唯一，重复回合号返回 ErrTurnTaken。
  - 禁言计数递减在下限 0 处截断，归零时清空 hushed_at。
  - 所有错误均为 *types.Error。
*/
package persistence
