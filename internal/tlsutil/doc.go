// Package tlsutil 集中提供 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 用于 Gemini 网关客户端、Redis 连接与 HTTPS 监听。
package tlsutil
