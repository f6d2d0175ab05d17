// Copyright (c) Council Authors.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、生成网关、
调度器、缓存与数据库。

# 核心类型

  - Collector：按业务域分组持有 Counter、Histogram、Gauge 向量指标。
    同时实现 conductor.Recorder、llm.GatewayRecorder 与 llm.CacheRecorder。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 网关指标：按 provider/model/outcome 统计调用、耗时与 token。
  - 调度器指标：周期结果与耗时、选择器 token（上报或估算）、
    熔断原因、状态转换、被丢弃的事件数。
  - 缓存与数据库指标：命中/未命中、连接池 Gauge、查询耗时。

测试中使用 NewCollectorWith 传入独立的 Registry，避免重复注册。
*/
package metrics
