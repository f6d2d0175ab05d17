// Package telemetry 负责 council 的 OpenTelemetry 初始化，
// 集中配置 TracerProvider、MeterProvider 与 W3C 传播器。
// 遥测关闭时使用 noop 实现，不连接任何外部服务。
package telemetry
