// Package circuitbreaker 限制会话的自动调度：连续自动回复次数与 token 预算。
//
// 与 LLM 调用层的熔断器不同，这里的判定是纯函数，不维护状态；
// 计数器由 conductor 持久化在会话上。
package circuitbreaker
