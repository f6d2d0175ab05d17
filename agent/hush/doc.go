// Package hush 管理会话内人格的临时禁言。
//
// 禁言以"已完成的调度周期"计数：每个周期结束时 DecrementAll 统一减一，
// 归零时清除 HushedAt。被禁言的人格不会出现在选择器的候选名单中，
// 直接点名发言时 EnsureSpeakable 返回 PERSONA_HUSHED。
package hush
