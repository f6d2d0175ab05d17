// Package api 组装 Council 的 HTTP API。
//
// 路由前缀为 /api/v1，全部响应使用统一的 JSON 信封：
//
//	{"success": true, "data": ..., "timestamp": "...", "request_id": "..."}
//
// 主要端点：
//   - /api/v1/sessions              会话创建、查询、归档
//   - /api/v1/sessions/{id}/conductor  调度器开关、单轮调度、熔断重置、暂停
//   - /api/v1/sessions/{id}/blackboard 黑板读写
//   - /api/v1/sessions/{id}/personas/{pid}/hush  禁言
//   - /api/v1/sessions/{id}/events  WebSocket 事件流
//   - /api/v1/models                可用生成模型
//
// 除健康检查外，所有端点在启用认证时需要 Bearer JWT。
package api
