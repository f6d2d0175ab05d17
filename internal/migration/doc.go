// Copyright (c) Council Authors.
// Licensed under the MIT License.

/*
包 migration 管理 Council 的关系型 Schema 版本，基于 golang-migrate，
覆盖 PostgreSQL、MySQL 与 SQLite。

# 迁移文件

SQL 文件内嵌于 migrations/<方言>/ 目录，命名为
NNNNNN_name.{up,down}.sql。表结构与 agent/persistence 的 gorm 模型一致：
sessions、personas、session_personas、messages。

SQLite 连接使用纯 Go 驱动（注册名 "sqlite"），由 golang-migrate 的
sqlite3 数据库驱动通过 WithInstance 包装执行。

# 入口

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Status 等。
  - NewMigratorFromConfig：从 config.Config 的 database 段构建。
  - CLI：council migrate 子命令的终端输出。
*/
package migration
