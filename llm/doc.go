// 版权所有 2024 Council Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义 Conductor 使用的模型生成网关契约及其通用装饰器。

# 核心接口

  - Gateway：Generate（单次非流式生成）与 ListModels
  - SecretProvider：按调用解析 API 密钥（StaticSecret / EnvSecret / ChainSecret），
    不使用进程级单例

# 装饰器

  - CachedGateway：基于 Redis 缓存模型列表，singleflight 合并并发未命中
  - ObservedGateway：OpenTelemetry span、Prometheus 指标与 zap 日志

# 错误

所有失败均为 *types.Error，错误码为 GATEWAY_AUTHENTICATION、GATEWAY_RATE_LIMIT、
GATEWAY_MODEL_NOT_FOUND 或 GATEWAY_ERROR，并携带 Provider 字段。
MapHTTPError 将上游 HTTP 状态映射为上述错误码。

具体实现见子包 gemini；重试策略见 retry；token 估算见 tokenizer。
*/
package llm
