// 版权所有 2024 Council Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 gemini 基于 Google Generative Language REST API 实现 llm.Gateway。

  - Generate：调用 v1beta/models/{model}:generateContent，system 指令独立传递
  - ListModels：调用 v1beta/models 并自动翻页
  - 认证：x-goog-api-key 请求头，密钥由注入的 llm.SecretProvider 在每次调用时提供
  - 错误映射：401/403 与无效密钥 → GATEWAY_AUTHENTICATION，429 与配额耗尽 →
    GATEWAY_RATE_LIMIT，404 → GATEWAY_MODEL_NOT_FOUND，其余 → GATEWAY_ERROR
  - 重试：仅对可重试错误（限流、5xx、网络错误）按指数退避重试
*/
package gemini
