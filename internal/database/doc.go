// Copyright (c) Council Authors.

/*
包 database 负责打开会话存储使用的 GORM 数据库并管理连接池。

# 核心类型

  - Open / Dialector：按驱动名（sqlite、sqlite3、postgres、mysql）选择方言。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - StatsRecorder：健康检查时上报连接数，由 metrics.Collector 实现。

sqlite 驱动固定为单连接，避免并发写入时的 database is locked。
*/
package database
