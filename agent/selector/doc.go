// Package selector 实现发言人选择网关。
//
// 选择器把问题、目标、黑板、最近的对话以及可发言人格名单组装成提示词，
// 以固定的低温度调用 LLM 网关，再从回复中提取第一个完整的 JSON 对象，
// 经 JSON Schema 严格校验后解码为 Decision。
//
// 解析失败或选中名单外的人格都会返回 VALIDATION_ERROR，
// 绝不会退化为"等待用户"。
package selector
