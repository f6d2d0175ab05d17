// Package turn 为会话消息分配严格递增、无间隙的回合号。
//
// Record 在会话锁内完成"读取最大回合号 + 写入"，并在事务中执行；
// RecordWith 供已持有会话锁的调用方在外部事务中使用。
package turn
