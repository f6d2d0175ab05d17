// Copyright (c) Council Authors.

/*
包 archive 把归档会话导出到 MongoDB。

MongoSink 实现 conductor.ArchiveSink：每个会话一份文档，_id 为会话 ID，
内容包括会话快照、参与者与完整对话记录。重复归档会覆盖旧文档。
导出失败不会回滚归档状态，由 Conductor 记录告警。
*/
package archive
